// Package flow implements the intent-classification and routing pipeline:
// it decides which backend serves a request, executes it through the
// dispatch queue, and optionally refines the raw result through a second
// generative pass.
//
// Classification makes at most one model call per request. The second
// classification pass is a local keyword-containment scan over that call's
// reply, not another model call; only parameter inference, when a matched
// rule requires it, issues a further generative submission.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/courierdev/courier/internal/ability"
	"github.com/courierdev/courier/internal/activity"
	"github.com/courierdev/courier/internal/backend"
	"github.com/courierdev/courier/internal/conversation"
	"github.com/courierdev/courier/internal/dispatch"
	"github.com/courierdev/courier/internal/relevance"
)

// Stage names which pipeline stage produced a routing match.
type Stage string

const (
	StageLiteral   Stage = "literal"
	StageFirstLine Stage = "first_line_parse"
	StageFallback  Stage = "fallback_classification"
	StageNone      Stage = "none"
)

// RoutingDecision records how a request was routed, for observability only.
type RoutingDecision struct {
	Rule  ability.Rule
	Input string
	Stage Stage
}

// Request is one trigger handed to the pipeline by a chat adapter.
type Request struct {
	// CorrelationID tags every nested call and event for this request. A
	// fresh id is assigned when empty.
	CorrelationID string
	Requester     string
	Text          string
	Trigger       conversation.Trigger
	Sources       conversation.Sources
	// Assembler is the adapter's history access. Nil means no history.
	Assembler *conversation.Assembler
}

// Outcome is the pipeline's terminal result.
type Outcome struct {
	Response  string
	BackendID string
	Result    backend.Result
	Decision  RoutingDecision
}

// Resolver is the top-level orchestrator. It is the only caller of the
// dispatch queue for backend execution and refinement passes.
type Resolver struct {
	logger   *slog.Logger
	queue    *dispatch.Queue
	backends *backend.Registry
	rules    *ability.Set
	filter   *relevance.Filter
	sink     activity.Sink
	budget   conversation.Budget
}

// NewResolver wires the pipeline. filter may be nil to disable relevance
// trimming globally; sink may be nil for no observability.
func NewResolver(
	log *slog.Logger,
	queue *dispatch.Queue,
	backends *backend.Registry,
	rules *ability.Set,
	filter *relevance.Filter,
	sink activity.Sink,
	budget conversation.Budget,
) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = activity.NopSink{}
	}
	return &Resolver{
		logger:   log.With(slog.String("service", "flow_resolver")),
		queue:    queue,
		backends: backends,
		rules:    rules,
		filter:   filter,
		sink:     sink,
		budget:   budget,
	}
}

// Rules exposes the rule set for status surfaces.
func (r *Resolver) Rules() *ability.Set {
	return r.rules
}

// HandleRequest routes and executes one request. Backend failures are
// returned verbatim; classification failures never escalate past "no rule
// matched".
func (r *Resolver) HandleRequest(ctx context.Context, req Request) (Outcome, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	log := r.logger.With(slog.String("correlation_id", req.CorrelationID))

	win := conversation.Window{Budget: r.budget}
	if req.Assembler != nil {
		win = req.Assembler.Assemble(ctx, req.Trigger, req.Sources, r.budget)
	}

	if rule, remainder, ok := r.rules.Match(req.Text); ok {
		if rule.ExactOnly() {
			r.emit(req, string(StageLiteral), rule)
			return r.describeAbilities(rule), nil
		}
		if rule.BackendID != backend.IDGenerative && (remainder != "" || rule.AllowEmpty) {
			decision := RoutingDecision{Rule: rule, Input: remainder, Stage: StageLiteral}
			r.emit(req, string(StageLiteral), rule)
			return r.execute(ctx, log, req, win, decision)
		}
		// A literal match on the generative backend, or one that matched
		// with no content to act on, still goes through classification.
	}

	return r.classify(ctx, log, req, win)
}

// classify runs the generative-assisted stages: first call with abilities
// context, first-line keyword parse, then a second pass over the model's
// own reply.
func (r *Resolver) classify(ctx context.Context, log *slog.Logger, req Request, win conversation.Window) (Outcome, error) {
	fallback := r.rules.Fallback()

	cwin := win
	if fallback.ContextFilter && r.filter != nil {
		cwin = r.filter.Trim(ctx, req.Requester, win, req.Text, fallback.MinDepth, fallback.MaxDepth)
	}

	r.emit(req, "classification", fallback)
	first, err := r.generativeCall(ctx, req, "classification", classificationGuidance(r.rules), cwin, req.Text, fallback)
	if err != nil {
		log.Warn("classification call failed", slog.Any("error", err))
		return Outcome{Decision: RoutingDecision{Rule: fallback, Input: req.Text, Stage: StageNone}}, err
	}

	if line := firstNonEmptyLine(first.Text); line != "" {
		if rule, remainder, ok := r.rules.Match(line); ok && !rule.ExactOnly() && rule.BackendID != backend.IDGenerative {
			input := remainder
			if input == "" && !rule.AllowEmpty {
				input = req.Text
			}
			decision := RoutingDecision{Rule: rule, Input: input, Stage: StageFirstLine}
			r.emit(req, string(StageFirstLine), rule)
			return r.execute(ctx, log, req, win, decision)
		}
	}

	if rule, ok := r.rules.ContainsKeyword(first.Text); ok && rule.BackendID != backend.IDGenerative {
		input := req.Text
		if rule.HasRequiredParams() {
			if inferred, inferErr := r.inferParameter(ctx, req, rule, fallback); inferErr != nil {
				log.Debug("parameter inference failed, using original text", slog.Any("error", inferErr))
			} else if inferred != "" {
				input = inferred
			}
		}
		decision := RoutingDecision{Rule: rule, Input: input, Stage: StageFallback}
		r.emit(req, string(StageFallback), rule)
		return r.execute(ctx, log, req, win, decision)
	}

	// No rule ever resolved: the first generative reply is the answer.
	r.emit(req, string(StageNone), fallback)
	return Outcome{
		Response:  first.Text,
		BackendID: backend.IDGenerative,
		Result:    first,
		Decision:  RoutingDecision{Rule: fallback, Input: req.Text, Stage: StageNone},
	}, nil
}

// execute submits the resolved rule's backend call under its lane, then
// runs the refinement pass when the rule requests one.
func (r *Resolver) execute(ctx context.Context, log *slog.Logger, req Request, win conversation.Window, decision RoutingDecision) (Outcome, error) {
	rule := decision.Rule
	client, ok := r.backends.Get(rule.BackendID)
	if !ok {
		return Outcome{Decision: decision}, fmt.Errorf("no client for backend %q", rule.BackendID)
	}

	breq := backend.Request{
		Requester: req.Requester,
		Content:   decision.Input,
		Model:     rule.Model,
		Guidance:  rule.Guidance,
	}
	if rule.BackendID == backend.IDGenerative {
		ewin := win
		if rule.ContextFilter && r.filter != nil {
			ewin = r.filter.Trim(ctx, req.Requester, win, decision.Input, rule.MinDepth, rule.MaxDepth)
		}
		breq.History = toTurns(ewin)
	}

	r.emit(req, "execute", rule)
	res, err := dispatch.Submit(ctx, r.queue, rule.BackendID, req.Requester, "ability:"+rule.Keyword, rule.Timeout(), func(opCtx context.Context) (backend.Result, error) {
		return client.Execute(opCtx, breq)
	})
	if err != nil {
		log.Warn("backend call failed",
			slog.String("backend", rule.BackendID),
			slog.Any("error", err))
		r.emit(req, "failure", rule)
		return Outcome{Decision: decision}, err
	}

	out := Outcome{
		Response:  renderText(res),
		BackendID: rule.BackendID,
		Result:    res,
		Decision:  decision,
	}

	// Refining a generative result with another generative call would loop;
	// skip the pass entirely in that case.
	if rule.Refine && rule.BackendID != backend.IDGenerative {
		r.emit(req, "refine", rule)
		refined, refineErr := r.refine(ctx, req, rule, res, win)
		if refineErr != nil {
			log.Warn("refinement failed, delivering unrefined result", slog.Any("error", refineErr))
		} else {
			out.Response = refined
		}
	}
	return out, nil
}

// refine feeds the structured backend result, as a backend-tagged external
// data block, back through the generative backend.
func (r *Resolver) refine(ctx context.Context, req Request, rule ability.Rule, res backend.Result, win conversation.Window) (string, error) {
	content := fmt.Sprintf("%s\n\nThe user asked: %s", formatExternalData(rule.BackendID, res), req.Text)
	refined, err := r.generativeCall(ctx, req, "refinement", refinementGuidance, win, content, r.rules.Fallback())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(refined.Text) == "" {
		return "", fmt.Errorf("empty refinement reply")
	}
	return refined.Text, nil
}

// inferParameter asks the generative backend to extract a concrete value
// for the rule's required parameters from the original request text.
func (r *Resolver) inferParameter(ctx context.Context, req Request, rule, fallback ability.Rule) (string, error) {
	r.emit(req, "parameter_inference", rule)
	res, err := r.generativeCall(ctx, req, "parameter-inference", parameterGuidance(rule), conversation.Window{}, req.Text, fallback)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(firstNonEmptyLine(res.Text))
	if value == "" {
		return "", fmt.Errorf("empty inference reply")
	}
	return value, nil
}

// generativeCall submits one call on the generative lane.
func (r *Resolver) generativeCall(ctx context.Context, req Request, label, guidance string, win conversation.Window, content string, timing ability.Rule) (backend.Result, error) {
	client, ok := r.backends.Get(backend.IDGenerative)
	if !ok {
		return backend.Result{}, fmt.Errorf("no generative backend registered")
	}
	return dispatch.Submit(ctx, r.queue, backend.IDGenerative, req.Requester, label, timing.Timeout(), func(opCtx context.Context) (backend.Result, error) {
		return client.Execute(opCtx, backend.Request{
			Requester: req.Requester,
			Content:   content,
			Guidance:  guidance,
			Model:     timing.Model,
			History:   toTurns(win),
		})
	})
}

// describeAbilities serves the reserved "help"/"abilities" keywords from the
// rule set directly, without a backend call.
func (r *Resolver) describeAbilities(rule ability.Rule) Outcome {
	var b strings.Builder
	b.WriteString("I can help with:\n")
	for _, rr := range r.rules.Rules() {
		if rr.ExactOnly() {
			continue
		}
		desc := rr.Description
		if desc == "" {
			desc = rr.BackendID
		}
		fmt.Fprintf(&b, "- %s: %s\n", rr.Keyword, desc)
	}
	b.WriteString("…or just ask me anything.")
	text := b.String()
	return Outcome{
		Response:  text,
		BackendID: backend.IDGenerative,
		Result:    backend.Result{Kind: backend.KindText, Text: text},
		Decision:  RoutingDecision{Rule: rule, Stage: StageLiteral},
	}
}

// emit publishes one content-free pipeline event.
func (r *Resolver) emit(req Request, stage string, rule ability.Rule) {
	r.sink.Emit("pipeline."+stage,
		fmt.Sprintf("stage %s via %s", stage, rule.BackendID),
		map[string]string{
			"correlation_id": req.CorrelationID,
			"stage":          stage,
			"backend":        rule.BackendID,
			"keyword":        rule.Keyword,
		})
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func toTurns(win conversation.Window) []backend.Turn {
	turns := win.Turns()
	out := make([]backend.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, backend.Turn{Role: t.Role, Content: t.Content})
	}
	return out
}
