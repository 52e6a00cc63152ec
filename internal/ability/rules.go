package ability

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/courierdev/courier/internal/backend"
)

// Set holds the enabled rules sorted keyword longest-first so that
// overlapping keywords ("weather" vs "weather report") disambiguate by
// longest match.
type Set struct {
	rules    []Rule
	fallback Rule
}

type rulesFile struct {
	Abilities []Rule `yaml:"abilities"`
}

// Load reads the rules file and validates it.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return NewSet(file.Abilities)
}

// NewSet validates and indexes the given rules.
func NewSet(rules []Rule) (*Set, error) {
	seen := map[string]bool{}
	set := &Set{}
	for i, r := range rules {
		r.Keyword = strings.ToLower(strings.TrimSpace(r.Keyword))
		r.BackendID = strings.TrimSpace(r.BackendID)
		if r.BackendID == "" {
			return nil, fmt.Errorf("rule %d: backend is required", i)
		}
		if r.Keyword == "" {
			if r.BackendID != backend.IDGenerative {
				return nil, fmt.Errorf("rule %d: only the generative fallback may omit a keyword", i)
			}
			set.fallback = r
			continue
		}
		if seen[r.Keyword] {
			return nil, fmt.Errorf("rule %d: duplicate keyword %q", i, r.Keyword)
		}
		seen[r.Keyword] = true
		set.rules = append(set.rules, r)
	}
	if set.fallback.BackendID == "" {
		set.fallback = Rule{BackendID: backend.IDGenerative, Description: "open-ended conversation", AllowEmpty: true}
	}
	sort.SliceStable(set.rules, func(i, j int) bool {
		return len(set.rules[i].Keyword) > len(set.rules[j].Keyword)
	})
	return set, nil
}

// Rules returns the keyworded rules, longest keyword first.
func (s *Set) Rules() []Rule {
	return s.rules
}

// Fallback returns the default generative rule used when no keyword rule
// resolves.
func (s *Set) Fallback() Rule {
	return s.fallback
}

// Clean normalizes request text for matching: trimmed, lowercased, inner
// whitespace collapsed.
func Clean(text string) string {
	return strings.ToLower(Collapse(text))
}

// Collapse trims and collapses inner whitespace without touching case.
func Collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Match tests text against every enabled rule, longest keyword first. A
// keyword matches case-insensitively as an anchored, word-boundary-terminated
// prefix; reserved keywords match only a whole message. The returned
// remainder is the text after the keyword in its original casing, since it
// becomes backend input (image prompts, search queries).
func (s *Set) Match(text string) (Rule, string, bool) {
	collapsed := Collapse(text)
	for _, r := range s.rules {
		if !r.IsEnabled() {
			continue
		}
		if r.ExactOnly() {
			if strings.EqualFold(collapsed, r.Keyword) {
				return r, "", true
			}
			continue
		}
		if strings.EqualFold(collapsed, r.Keyword) {
			return r, "", true
		}
		// Keywords are lowercased at load, so an EqualFold byte-prefix match
		// never lands inside a multibyte rune: a split rune cannot fold-equal
		// the keyword's trailing byte.
		n := len(r.Keyword)
		if len(collapsed) > n && strings.EqualFold(collapsed[:n], r.Keyword) {
			rest := collapsed[n:]
			if boundary, _ := isWordBoundary(rest); boundary {
				return r, strings.TrimSpace(rest), true
			}
		}
	}
	return Rule{}, "", false
}

// ByKeyword finds an enabled rule whose keyword exactly equals token.
func (s *Set) ByKeyword(token string) (Rule, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	for _, r := range s.rules {
		if r.IsEnabled() && r.Keyword == token {
			return r, true
		}
	}
	return Rule{}, false
}

// ContainsKeyword scans text for any enabled rule keyword appearing as a
// whole word, longest keyword first.
func (s *Set) ContainsKeyword(text string) (Rule, bool) {
	cleaned := Clean(text)
	for _, r := range s.rules {
		if !r.IsEnabled() || r.ExactOnly() {
			continue
		}
		idx := strings.Index(cleaned, r.Keyword)
		for idx >= 0 {
			before := idx == 0 || !isWordChar(rune(cleaned[idx-1]))
			rest := cleaned[idx+len(r.Keyword):]
			after, _ := isWordBoundary(rest)
			if before && after {
				return r, true
			}
			next := strings.Index(cleaned[idx+1:], r.Keyword)
			if next < 0 {
				break
			}
			idx += 1 + next
		}
	}
	return Rule{}, false
}

// isWordBoundary reports whether rest starts at a word boundary, and the
// boundary rune's width.
func isWordBoundary(rest string) (bool, int) {
	if rest == "" {
		return true, 0
	}
	r := rune(rest[0])
	if isWordChar(r) {
		return false, 0
	}
	return true, 1
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
