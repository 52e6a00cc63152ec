// Package ability holds the deployment's routing rules: keyword→backend
// mappings with timeouts and classification/refinement modifiers.
package ability

import (
	"time"
)

// Reserved keywords that only match an exact whole message, never a prefix.
var reservedExact = map[string]bool{
	"help":      true,
	"abilities": true,
}

// Params names the ability parameters a rule consumes.
type Params struct {
	Required []string `yaml:"required"`
	Optional []string `yaml:"optional"`
}

// Rule is one keyword→backend routing rule. Read-only to the pipeline.
type Rule struct {
	Keyword        string `yaml:"keyword"`
	BackendID      string `yaml:"backend"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Description    string `yaml:"description"`
	Enabled        *bool  `yaml:"enabled"`
	Refine         bool   `yaml:"refine"`
	ContextFilter  bool   `yaml:"context_filter"`
	MinDepth       int    `yaml:"min_depth"`
	MaxDepth       int    `yaml:"max_depth"`
	AllowEmpty     bool   `yaml:"allow_empty"`
	Params         Params `yaml:"params"`
	Guidance       string `yaml:"guidance"`
	Model          string `yaml:"model"`
}

// IsEnabled reports whether the rule participates in routing. Rules are
// enabled unless explicitly switched off.
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Timeout returns the rule's backend timeout.
func (r Rule) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// ExactOnly reports whether the keyword only matches a whole message.
func (r Rule) ExactOnly() bool {
	return reservedExact[r.Keyword]
}

// HasRequiredParams reports whether the rule declares required ability
// parameters.
func (r Rule) HasRequiredParams() bool {
	return len(r.Params.Required) > 0
}
