package addressing

import (
	"encoding/json"
	"strings"
)

// Verdict is the parsed outcome of one classifier call.
type Verdict int

const (
	// VerdictViolation means the output did not honor the YES/NO contract.
	// Distinct from a valid "no": violations may be retried.
	VerdictViolation Verdict = iota
	VerdictYes
	VerdictNo
)

// ParseVerdict extracts a confident YES or NO from raw classifier output.
// The contract allows the bare token in any case, optionally wrapped in
// quotes, a code fence, or a JSON object with a single yes/no value.
// Anything else, including empty output or prose that merely contains the
// word, is a contract violation.
func ParseVerdict(raw string) Verdict {
	s := strings.TrimSpace(raw)
	if s == "" {
		return VerdictViolation
	}

	s = stripFence(s)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return VerdictViolation
		}
		verdict := VerdictViolation
		for _, v := range obj {
			str, ok := v.(string)
			if !ok {
				continue
			}
			if parsed := bareVerdict(str); parsed != VerdictViolation {
				if verdict != VerdictViolation {
					return VerdictViolation // two candidate values, ambiguous
				}
				verdict = parsed
			}
		}
		return verdict
	}

	return bareVerdict(s)
}

func bareVerdict(s string) Verdict {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimRight(s, ".!")
	switch strings.ToUpper(s) {
	case "YES":
		return VerdictYes
	case "NO":
		return VerdictNo
	}
	return VerdictViolation
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 && len(strings.Fields(s[:i])) <= 1 {
		// Drop a language tag on the fence line.
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return s
}
