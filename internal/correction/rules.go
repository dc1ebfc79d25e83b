// Package correction applies operator-defined find/replace rules to
// translated text before writeback, grounded on the original's
// auto_translation_rules.py.
package correction

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Rule is one correction: a literal or regex pattern, optionally scoped to
// a (source lang, target lang) pair. A rule with empty SourceLang/
// TargetLang applies universally, per SPEC_FULL.md's restatement of the
// original's scoping.
type Rule struct {
	ID            string
	Pattern       string
	Replacement   string
	IsRegex       bool
	CaseSensitive bool
	SourceLang    string // empty = any
	TargetLang    string // empty = any
	Priority      int    // higher applies first
	CreatedAt     time.Time

	compiled *regexp.Regexp
}

// Engine holds a compiled, sorted set of Rules and applies them to text.
type Engine struct {
	rules []Rule
}

// NewEngine compiles rules and orders them priority descending, then
// created_at ascending to break ties deterministically.
func NewEngine(rules []Rule) (*Engine, error) {
	compiled := make([]Rule, len(rules))
	copy(compiled, rules)

	for i := range compiled {
		if compiled[i].IsRegex {
			pattern := compiled[i].Pattern
			if !compiled[i].CaseSensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, err
			}
			compiled[i].compiled = re
		}
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority > compiled[j].Priority
		}
		return compiled[i].CreatedAt.Before(compiled[j].CreatedAt)
	})

	return &Engine{rules: compiled}, nil
}

// Apply runs every rule scoped to (sourceLang, targetLang) against text, in
// order, returning the corrected result and the IDs of the rules that
// fired. A rule only counts as fired if applying it actually changed the
// text, per SPEC_FULL.md's "applied" definition.
func (e *Engine) Apply(text, sourceLang, targetLang string) (string, []string) {
	var fired []string
	for _, r := range e.rules {
		if !r.matchesLangs(sourceLang, targetLang) {
			continue
		}
		next := r.apply(text)
		if next != text {
			fired = append(fired, r.ID)
		}
		text = next
	}
	return text, fired
}

func (r *Rule) matchesLangs(sourceLang, targetLang string) bool {
	if r.SourceLang != "" && r.SourceLang != sourceLang {
		return false
	}
	if r.TargetLang != "" && r.TargetLang != targetLang {
		return false
	}
	return true
}

func (r *Rule) apply(text string) string {
	if r.IsRegex {
		if r.compiled == nil {
			return text
		}
		return r.compiled.ReplaceAllString(text, r.Replacement)
	}
	if r.CaseSensitive {
		return strings.ReplaceAll(text, r.Pattern, r.Replacement)
	}
	return replaceAllCaseInsensitive(text, r.Pattern, r.Replacement)
}

func replaceAllCaseInsensitive(text, pattern, replacement string) string {
	if pattern == "" {
		return text
	}
	lowerText := strings.ToLower(text)
	lowerPattern := strings.ToLower(pattern)

	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lowerText[i:], lowerPattern)
		if idx < 0 {
			b.WriteString(text[i:])
			break
		}
		b.WriteString(text[i : i+idx])
		b.WriteString(replacement)
		i += idx + len(lowerPattern)
	}
	return b.String()
}
