// Package relevance implements the model-assisted context filter that trims
// an assembled conversation window down to the entries relevant to the
// current request.
package relevance

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/courierdev/courier/internal/backend"
	"github.com/courierdev/courier/internal/conversation"
	"github.com/courierdev/courier/internal/dispatch"
)

const filterGuidance = "You judge which recent chat messages are still relevant to a new request. " +
	"Answer with a single integer and nothing else."

var firstInt = regexp.MustCompile(`-?\d+`)

// Filter asks the generative backend how much of the recent window is still
// relevant. Every failure fails open: the unfiltered window is returned
// rather than losing context.
type Filter struct {
	logger     *slog.Logger
	queue      *dispatch.Queue
	generative backend.Client
	timeout    time.Duration
}

// NewFilter creates a filter that issues its one generative call through the
// dispatch queue's generative lane.
func NewFilter(log *slog.Logger, queue *dispatch.Queue, generative backend.Client, timeout time.Duration) *Filter {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Filter{
		logger:     log.With(slog.String("service", "relevance_filter")),
		queue:      queue,
		generative: generative,
		timeout:    timeout,
	}
}

// Trim keeps the most recent relevant entries of win, clamped into
// [minDepth, maxDepth]. System-tagged entries bypass filtering and are
// always reattached in place.
func (f *Filter) Trim(ctx context.Context, requester string, win conversation.Window, requestText string, minDepth, maxDepth int) conversation.Window {
	if minDepth < 1 {
		minDepth = 1
	}
	if maxDepth < minDepth {
		maxDepth = minDepth
	}

	nonSystem := win.NonSystem()
	candidateCount := len(nonSystem)
	if candidateCount > maxDepth {
		candidateCount = maxDepth
	}
	if candidateCount <= minDepth {
		// Nothing worth a model call.
		return win
	}
	candidates := nonSystem[len(nonSystem)-candidateCount:]

	keep, err := f.askModel(ctx, requester, candidates, requestText)
	if err != nil {
		f.logger.Debug("relevance call failed, keeping full window", slog.Any("error", err))
		return win
	}
	if keep < minDepth {
		keep = minDepth
	}
	if keep > candidateCount {
		keep = candidateCount
	}
	kept := candidates[len(candidates)-keep:]

	// Rebuild in original order: system entries plus the kept tail.
	keptIDs := make(map[string]bool, len(kept))
	for _, m := range kept {
		keptIDs[windowKey(m)] = true
	}
	out := make([]conversation.Message, 0, len(win.Messages))
	for _, m := range win.Messages {
		if m.Role == conversation.RoleSystem || keptIDs[windowKey(m)] {
			out = append(out, m)
		}
	}
	return conversation.Window{Messages: out, Budget: win.Budget}
}

// askModel formats the candidates newest first with rank numbers and parses
// the model's integer reply.
func (f *Filter) askModel(ctx context.Context, requester string, candidates []conversation.Message, requestText string) (int, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "New request: %s\n\n", requestText)
	fmt.Fprintf(&b, "The %d most recent messages, newest first:\n", len(candidates))
	for i := len(candidates) - 1; i >= 0; i-- {
		rank := len(candidates) - i
		fmt.Fprintf(&b, "%d. %s\n", rank, candidates[i].Content)
	}
	fmt.Fprintf(&b, "\nStarting from message 1, how many of these are relevant context for the new request? Answer with one integer.")

	result, err := dispatch.Submit(ctx, f.queue, backend.IDGenerative, requester, "context-relevance", f.timeout, func(opCtx context.Context) (backend.Result, error) {
		return f.generative.Execute(opCtx, backend.Request{
			Requester: requester,
			Guidance:  filterGuidance,
			Content:   b.String(),
		})
	})
	if err != nil {
		return 0, err
	}
	match := firstInt.FindString(result.Text)
	if match == "" {
		return 0, fmt.Errorf("no integer in reply %q", strings.TrimSpace(result.Text))
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("parse reply %q: %w", match, err)
	}
	return n, nil
}

func windowKey(m conversation.Message) string {
	if m.OriginID != "" {
		return m.OriginID
	}
	return m.CreatedAt.Format(time.RFC3339Nano) + "|" + m.Content
}
