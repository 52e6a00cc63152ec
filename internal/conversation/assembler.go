package conversation

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// ReferencedMessage is one resolved reply-chain link.
type ReferencedMessage struct {
	ID            string
	ReplyToID     string
	AuthorID      string
	AuthorName    string
	Content       string
	CreatedAt     time.Time
	FromAssistant bool
}

// ReferencedMessageFetcher resolves a replied-to message by id.
type ReferencedMessageFetcher interface {
	FetchReferencedMessage(ctx context.Context, id string) (ReferencedMessage, error)
}

// HistoryMessage is one ambient channel history entry.
type HistoryMessage struct {
	ID            string
	AuthorID      string
	AuthorName    string
	Content       string
	CreatedAt     time.Time
	FromAssistant bool
	InThread      bool
}

// ChannelHistoryFetcher returns up to limit messages preceding beforeID in
// the same channel or thread, newest first.
type ChannelHistoryFetcher interface {
	FetchChannelHistory(ctx context.Context, beforeID string, limit int) ([]HistoryMessage, error)
}

// Trigger describes the message that started a request.
type Trigger struct {
	MessageID  string
	ReplyToID  string
	AuthorID   string
	AuthorName string
	InThread   bool
	IsDirect   bool
}

// Sources selects which collection strategies run for a trigger. The chat
// adapter picks based on channel kind.
type Sources struct {
	ReplyChain     bool
	ChannelHistory bool
}

// Assembler builds conversation windows under a budget. Fetch failures never
// abort assembly: traversal stops early and whatever was gathered is used.
type Assembler struct {
	logger  *slog.Logger
	refs    ReferencedMessageFetcher
	history ChannelHistoryFetcher
}

// NewAssembler creates an assembler over the given history sources. Either
// fetcher may be nil; the corresponding strategy is then skipped.
func NewAssembler(log *slog.Logger, refs ReferencedMessageFetcher, history ChannelHistoryFetcher) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{
		logger:  log.With(slog.String("service", "context_assembler")),
		refs:    refs,
		history: history,
	}
}

// Assemble collects, merges, and attributes history for the trigger,
// returning an oldest-first window within budget.
func (a *Assembler) Assemble(ctx context.Context, trigger Trigger, sources Sources, budget Budget) Window {
	var chain []Message
	if sources.ReplyChain && a.refs != nil {
		chain = a.collectReplyChain(ctx, trigger, budget)
	}

	var ambient []Message
	if sources.ChannelHistory && a.history != nil {
		used := 0
		for _, m := range chain {
			used += m.Chars()
		}
		remaining := Budget{
			MaxMessages: budget.MaxMessages - len(chain),
			MaxChars:    budget.MaxChars - used,
		}
		if remaining.MaxMessages > 0 && remaining.MaxChars > 0 {
			ambient = a.collectAmbient(ctx, trigger, remaining, len(chain) == 0)
		}
	}

	merged := mergeSources(chain, ambient)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	attributeSpeakers(merged, trigger)

	return Window{Messages: merged, Budget: budget}
}

// collectReplyChain walks the replied-to links backwards from the trigger.
// Stops on: max depth, a previously seen id (cycle guard), an unresolvable
// link, or a candidate that would exceed the character budget. The budget
// check happens before adding, so partial fits are rejected, not truncated.
func (a *Assembler) collectReplyChain(ctx context.Context, trigger Trigger, budget Budget) []Message {
	seen := map[string]bool{trigger.MessageID: true}
	var collected []Message
	chars := 0

	nextID := trigger.ReplyToID
	for nextID != "" && len(collected) < budget.MaxMessages {
		if seen[nextID] {
			a.logger.Debug("reply chain cycle", slog.String("message_id", nextID))
			break
		}
		seen[nextID] = true

		ref, err := a.refs.FetchReferencedMessage(ctx, nextID)
		if err != nil {
			// Deleted or inaccessible: keep what was collected.
			a.logger.Debug("reply link unresolved",
				slog.String("message_id", nextID),
				slog.Any("error", err))
			break
		}
		if chars+len(ref.Content) > budget.MaxChars {
			break
		}
		chars += len(ref.Content)

		role := RoleHuman
		if ref.FromAssistant {
			role = RoleAssistant
		}
		collected = append(collected, Message{
			Role:       role,
			Content:    ref.Content,
			Source:     SourceReplyChain,
			OriginID:   ref.ID,
			AuthorID:   ref.AuthorID,
			AuthorName: ref.AuthorName,
			CreatedAt:  ref.CreatedAt,
		})
		nextID = ref.ReplyToID
	}

	// Traversal walks newest to oldest; flip to chronological.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected
}

// collectAmbient fetches the most recent messages preceding the trigger and
// trims from the oldest end until the set fits the budget, so the newest
// messages are always preserved.
func (a *Assembler) collectAmbient(ctx context.Context, trigger Trigger, budget Budget, retagThread bool) []Message {
	fetched, err := a.history.FetchChannelHistory(ctx, trigger.MessageID, budget.MaxMessages)
	if err != nil {
		a.logger.Debug("channel history fetch failed",
			slog.String("before", trigger.MessageID),
			slog.Any("error", err))
		return nil
	}

	source := SourceChannel
	if trigger.IsDirect {
		source = SourceDirect
	} else if retagThread && trigger.InThread {
		// No reply chain but an active thread: tag as thread context.
		source = SourceThread
	}

	// Newest first from the fetcher; reverse to oldest first.
	msgs := make([]Message, 0, len(fetched))
	for i := len(fetched) - 1; i >= 0; i-- {
		h := fetched[i]
		role := RoleHuman
		if h.FromAssistant {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{
			Role:       role,
			Content:    h.Content,
			Source:     source,
			OriginID:   h.ID,
			AuthorID:   h.AuthorID,
			AuthorName: h.AuthorName,
			CreatedAt:  h.CreatedAt,
		})
	}

	if len(msgs) > budget.MaxMessages {
		msgs = msgs[len(msgs)-budget.MaxMessages:]
	}
	total := 0
	for _, m := range msgs {
		total += m.Chars()
	}
	for len(msgs) > 0 && total > budget.MaxChars {
		total -= msgs[0].Chars()
		msgs = msgs[1:]
	}
	return msgs
}

// mergeSources de-duplicates by origin id with reply-chain entries taking
// precedence on conflict.
func mergeSources(chain, ambient []Message) []Message {
	if len(chain) == 0 {
		return ambient
	}
	inChain := make(map[string]bool, len(chain))
	for _, m := range chain {
		if m.OriginID != "" {
			inChain[m.OriginID] = true
		}
	}
	merged := make([]Message, 0, len(chain)+len(ambient))
	merged = append(merged, chain...)
	for _, m := range ambient {
		if m.OriginID != "" && inChain[m.OriginID] {
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

// attributeSpeakers prefixes human messages with their display name, but
// only when more than one distinct human participates (the trigger author
// counts). Prefixing is reserved for disambiguation, not decoration.
func attributeSpeakers(msgs []Message, trigger Trigger) {
	humans := map[string]bool{}
	if trigger.AuthorID != "" {
		humans[trigger.AuthorID] = true
	}
	for _, m := range msgs {
		if m.Role == RoleHuman && m.AuthorID != "" {
			humans[m.AuthorID] = true
		}
	}
	if len(humans) <= 1 {
		return
	}
	for i := range msgs {
		if msgs[i].Role != RoleHuman {
			continue
		}
		msgs[i].Content = PrefixContent(msgs[i].AuthorName, msgs[i].Content, msgs[i].Prefixed)
		msgs[i].Prefixed = true
	}
}
