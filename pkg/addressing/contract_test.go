package addressing

import "testing"

func TestParseVerdictConfident(t *testing.T) {
	yes := []string{
		"YES", "yes", "Yes", " YES ", `"YES"`, "'no'",
		`{"decision":"YES"}`, `{"answer":"no"}`,
		"```\nYES\n```", "```json\n{\"decision\":\"NO\"}\n```",
		"YES.",
	}
	for _, in := range yes {
		if ParseVerdict(in) == VerdictViolation {
			t.Errorf("ParseVerdict(%q) should be confident", in)
		}
	}
}

func TestParseVerdictValues(t *testing.T) {
	if ParseVerdict("yes") != VerdictYes {
		t.Error("yes should parse YES")
	}
	if ParseVerdict(`{"decision":"NO"}`) != VerdictNo {
		t.Error("json NO should parse NO")
	}
}

func TestParseVerdictViolations(t *testing.T) {
	violations := []string{
		"",
		"   ",
		"I think the answer is YES because they said the name.",
		"YES, they are talking to you.",
		"maybe",
		`{"a":"YES","b":"NO"}`,
		`{"confidence":0.9}`,
		"{broken json",
	}
	for _, in := range violations {
		if ParseVerdict(in) != VerdictViolation {
			t.Errorf("ParseVerdict(%q) should be a violation", in)
		}
	}
}
