// Package filter implements the news topic matching engine.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"homedash/internal/model"
)

// Item is the text of a news item to be matched against topic rules.
type Item struct {
	Title       string
	Description string
}

type compiledRule struct {
	kind  model.RuleKind
	scope model.RuleScope
	word  string
	re    *regexp.Regexp
}

// Matcher evaluates a fixed set of topic rules.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
type Matcher struct {
	rules       []compiledRule
	hasIncludes bool
}

// NewMatcher compiles rules once. A nil or empty rule set matches everything.
func NewMatcher(rules []model.TopicRule) (*Matcher, error) {
	m := &Matcher{}
	for i, r := range rules {
		cr := compiledRule{kind: r.Kind, scope: r.Scope}
		switch r.Kind {
		case model.RuleInclude, model.RuleExclude:
			cr.word = strings.ToLower(r.Value)
		case model.RuleIncludeRe, model.RuleExcludeRe:
			re, err := compile(r.Value)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			cr.re = re
		default:
			return nil, fmt.Errorf("rule %d: unknown kind %q", i, r.Kind)
		}
		if r.Kind == model.RuleInclude || r.Kind == model.RuleIncludeRe {
			m.hasIncludes = true
		}
		m.rules = append(m.rules, cr)
	}
	return m, nil
}

// Match reports whether item passes the rules.
func (m *Matcher) Match(item Item) bool {
	if m == nil || len(m.rules) == 0 {
		return true
	}

	anyInclude := false
	for _, r := range m.rules {
		hit := r.matches(item)
		switch r.kind {
		case model.RuleExclude, model.RuleExcludeRe:
			if hit {
				return false
			}
		default:
			if hit {
				anyInclude = true
			}
		}
	}
	return !m.hasIncludes || anyInclude
}

func (r compiledRule) matches(item Item) bool {
	text := textForScope(item, r.scope)
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.word)
}

func textForScope(item Item, scope model.RuleScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(item.Title)
	case model.ScopeContent:
		return strings.ToLower(item.Description)
	default:
		return strings.ToLower(item.Title + " " + item.Description)
	}
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}

// ValidateRules checks that every rule can be compiled.
func ValidateRules(rules []model.TopicRule) error {
	_, err := NewMatcher(rules)
	return err
}
