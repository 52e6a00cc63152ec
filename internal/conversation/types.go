// Package conversation defines conversation window types and the context
// assembler that builds a budgeted window from chat history sources.
package conversation

import (
	"strings"
	"time"
)

// Message role constants.
const (
	RoleHuman     = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Source tags where a window entry was collected from.
type Source string

const (
	SourceReplyChain Source = "reply_chain"
	SourceThread     Source = "thread"
	SourceChannel    Source = "channel"
	SourceDirect     Source = "direct"
	SourceSynthetic  Source = "synthetic"
)

// Message is one historical conversation turn.
type Message struct {
	Role       string
	Content    string
	Source     Source
	OriginID   string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
	// Prefixed marks content that already carries a "speaker: " prefix, so
	// attribution never double-prefixes it and unprefixed text containing a
	// colon is never mis-parsed.
	Prefixed bool
}

// Chars returns the character count the budget accounting charges for m.
func (m Message) Chars() int {
	return len(m.Content)
}

// Budget bounds a window by message count and total characters.
type Budget struct {
	MaxMessages int
	MaxChars    int
}

// Window is an oldest-first list of messages plus the budget it was built
// under. System-tagged entries are exempt from budget accounting.
type Window struct {
	Messages []Message
	Budget   Budget
}

// NonSystem returns the window entries that count against the budget.
func (w Window) NonSystem() []Message {
	out := make([]Message, 0, len(w.Messages))
	for _, m := range w.Messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// CharCount sums the characters of all non-system entries.
func (w Window) CharCount() int {
	total := 0
	for _, m := range w.Messages {
		if m.Role != RoleSystem {
			total += m.Chars()
		}
	}
	return total
}

// Turns renders the window as role/content pairs for a backend call.
// Each turn's content carries the speaker prefix when attribution set one.
func (w Window) Turns() []Turn {
	turns := make([]Turn, 0, len(w.Messages))
	for _, m := range w.Messages {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// Turn is one rendered window entry.
type Turn struct {
	Role    string
	Content string
}

// PrefixContent rewrites content as "name: content" unless it is already
// prefixed.
func PrefixContent(name, content string, alreadyPrefixed bool) string {
	if alreadyPrefixed || strings.TrimSpace(name) == "" {
		return content
	}
	return name + ": " + content
}
