package urirules

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Rule is a single URI pattern entry from the settings.
type Rule struct {
	// Regular expression matched against the request path.
	// Leading and trailing slashes are ignored. An empty pattern never matches.
	Pattern string `yaml:"pattern"`
	// Restricts the rule to one site. Zero applies the rule to all sites.
	Site int `yaml:"site"`
}

// Rules is an ordered list of rules.
type Rules []Rule

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Matcher holds compiled rules in their configured order.
type Matcher struct {
	rules []compiledRule
}

// Compile compiles the rules using the global logger for reporting invalid patterns.
func (r Rules) Compile() Matcher {
	return r.CompileWithLogger(&log.Logger)
}

// CompileWithLogger compiles the rules.
// Empty and invalid patterns are dropped, so they can never match.
func (r Rules) CompileWithLogger(logger *zerolog.Logger) Matcher {
	m := Matcher{rules: make([]compiledRule, 0, len(r))}
	for _, rule := range r {
		pattern := strings.Trim(rule.Pattern, "/")
		if pattern == "" {
			logger.Trace().Str("pattern", rule.Pattern).Msg("Ignoring empty URI pattern")
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			logger.Warn().Err(err).Str("pattern", rule.Pattern).Msg("Ignoring invalid URI pattern")
			continue
		}
		m.rules = append(m.rules, compiledRule{rule: rule, re: re})
	}
	return m
}

// Find returns the first rule matching the path on the given site, if any.
func (m Matcher) Find(siteID int, path string) (Rule, bool) {
	for _, cr := range m.rules {
		if cr.rule.Site != 0 && cr.rule.Site != siteID {
			continue
		}
		if cr.re.MatchString(path) {
			return cr.rule, true
		}
	}
	return Rule{}, false
}

// Match reports whether any rule matches the path on the given site.
func (m Matcher) Match(siteID int, path string) bool {
	_, ok := m.Find(siteID, path)
	return ok
}

// Len returns the number of usable rules.
func (m Matcher) Len() int {
	return len(m.rules)
}
