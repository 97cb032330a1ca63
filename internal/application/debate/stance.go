package debate

import (
	"math"
	"strings"
	"unicode"
)

var (
	disagreeWords = []string{"disagree", "discordo"}
	agreeWords    = []string{"agree", "concordo"}
)

// sentences splits text on sentence terminators and line breaks.
func sentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mentions reports whether name appears in lower as a whole word.
func mentions(lower, name string) bool {
	name = strings.ToLower(name)
	for i := 0; ; {
		j := strings.Index(lower[i:], name)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(name)
		if boundary(lower, start-1) && boundary(lower, end) {
			return true
		}
		i = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// detectStance finds, sentence by sentence, which of the other
// participants a message agrees or disagrees with. A sentence that
// names a participant and says it disagrees counts as disagreement;
// otherwise saying it agrees counts as agreement.
func detectStance(text string, others []string) (agrees, disagrees []string) {
	seenAgree := map[string]bool{}
	seenDisagree := map[string]bool{}
	for _, s := range sentences(strings.ToLower(text)) {
		disagreeing := containsAny(s, disagreeWords)
		agreeing := !disagreeing && containsAny(s, agreeWords)
		if !disagreeing && !agreeing {
			continue
		}
		for _, name := range others {
			if !mentions(s, name) {
				continue
			}
			switch {
			case disagreeing && !seenDisagree[name]:
				seenDisagree[name] = true
				disagrees = append(disagrees, name)
			case agreeing && !seenAgree[name]:
				seenAgree[name] = true
				agrees = append(agrees, name)
			}
		}
	}
	return agrees, disagrees
}

// stanceFromOutput reads explicit agrees_with/disagrees_with lists from a
// structured executor output.
func stanceFromOutput(out map[string]any, others []string) (agrees, disagrees []string, ok bool) {
	a, okA := stringList(out["agrees_with"])
	d, okD := stringList(out["disagrees_with"])
	if !okA && !okD {
		return nil, nil, false
	}
	known := map[string]bool{}
	for _, name := range others {
		known[name] = true
	}
	return keep(a, known), keep(d, known), true
}

func stringList(v any) ([]string, bool) {
	switch v := v.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func keep(names []string, known map[string]bool) []string {
	var out []string
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if known[n] {
			out = append(out, n)
		}
	}
	return out
}

// confidence of a message: 0.7 for opening positions, then decaying by
// 0.1 per round down to 0.5.
func confidence(round int) float64 {
	if round <= 1 {
		return initialConfidence
	}
	return math.Max(minConfidence, 1-float64(round)*0.1)
}
