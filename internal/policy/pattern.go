// Package policy implements Authority Policies: versioned principal-level
// rule sets (§3 "Authority Policy") and the glob/regex pattern-containment
// order used for mandate scope-subset checks (§4.1).
package policy

import (
	"fmt"
	"regexp/syntax"
	"sort"
	"strings"
)

// PatternKind distinguishes how a stored pattern was authored. Glob and
// regex patterns are canonicalized to an anchored regular expression
// before containment checks (§4.1: "for mixed patterns, canonicalize to
// regex form first"); see cel.go for the CEL kind, which opts out of
// containment reasoning.
type PatternKind string

const (
	PatternGlob  PatternKind = "glob"
	PatternRegex PatternKind = "regex"
)

// Pattern is a stored resource or action pattern: the original
// author-facing string plus its compiled anchored-regex form.
type Pattern struct {
	Kind     PatternKind
	Raw      string
	Anchored string // canonical anchored regex, e.g. "^api:x/.*$"
}

// Compile canonicalizes a raw pattern of the given kind into its anchored
// regex form.
func Compile(kind PatternKind, raw string) (Pattern, error) {
	switch kind {
	case PatternGlob:
		return Pattern{Kind: kind, Raw: raw, Anchored: globToAnchoredRegex(raw)}, nil
	case PatternRegex:
		anchored := anchor(raw)
		if _, err := syntax.Parse(anchored, syntax.Perl); err != nil {
			return Pattern{}, fmt.Errorf("policy: invalid regex pattern %q: %w", raw, err)
		}
		return Pattern{Kind: kind, Raw: raw, Anchored: anchored}, nil
	case PatternCEL:
		if _, err := compileCEL(raw); err != nil {
			return Pattern{}, err
		}
		return Pattern{Kind: kind, Raw: raw}, nil
	default:
		return Pattern{}, fmt.Errorf("policy: unknown pattern kind %q", kind)
	}
}

func anchor(re string) string {
	if !strings.HasPrefix(re, "^") {
		re = "^(?:" + re + ")"
	}
	if !strings.HasSuffix(re, "$") {
		re = re + "$"
	}
	return re
}

// globToAnchoredRegex converts a shell-style glob (literal characters, "*"
// matching any run of characters, "?" matching exactly one character) into
// an anchored regular expression. Regex metacharacters in literal segments
// are escaped.
func globToAnchoredRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexQuoteRune(r))
		}
	}
	b.WriteString("$")
	return b.String()
}

func regexQuoteRune(r rune) string {
	switch r {
	case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\':
		return "\\" + string(r)
	default:
		return string(r)
	}
}

// Contains reports whether pattern p contains pattern q: every concrete
// string matching q's language also matches p's language. Implemented as
// automata product-emptiness of L(q) \ L(p), per §4.1. Equality of raw
// strings is a fast path for the common identical-pattern case.
func Contains(p, q Pattern) (bool, error) {
	if p.Raw == q.Raw && p.Kind == q.Kind {
		return true, nil
	}
	if p.Kind == PatternCEL || q.Kind == PatternCEL {
		// CEL predicates are opaque to the containment order: a CEL
		// pattern contains nothing but an identical CEL pattern, and
		// nothing contains a CEL pattern except itself. Fail closed
		// rather than guess at language inclusion for arbitrary code.
		return false, nil
	}
	return regexContains(p.Anchored, q.Anchored)
}

// Tiebreak orders patterns of equal specificity by lexicographic order of
// their canonical (anchored) form, per §4.1's tie-break rule.
func Tiebreak(patterns []Pattern) {
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Anchored != patterns[j].Anchored {
			return patterns[i].Anchored < patterns[j].Anchored
		}
		return patterns[i].Raw < patterns[j].Raw
	})
}

// ContainsAny reports whether any pattern in the candidate set contains
// the target pattern — used for both resource-scope and action-scope
// subset checks, where a child mandate's single pattern must be contained
// by at least one of the parent's patterns.
func ContainsAny(candidates []Pattern, target Pattern) (bool, error) {
	for _, c := range candidates {
		ok, err := Contains(c, target)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// MatchesResource reports whether a single pattern matches a concrete
// resource/action string, used for the validator's scope check (§4.2 step
// 5: "a single anchored regex match").
func MatchesResource(p Pattern, resource string) (bool, error) {
	if p.Kind == PatternCEL {
		return matchesCEL(p.Raw, resource)
	}
	re, err := syntax.Parse(p.Anchored, syntax.Perl)
	if err != nil {
		return false, fmt.Errorf("policy: compiled pattern invalid: %w", err)
	}
	return buildNFA(re.Simplify()).accepts(resource), nil
}
