package addressing

import "testing"

func TestMatcherAccepts(t *testing.T) {
	m := NewMatcher("clanker conk")
	for _, utterance := range []string{
		"yo plink",
		"is that u clank?",
		"did i just hear a clanka?",
		"clanker what do you think",
		"hey clanker conk get in here",
		"love you clanky",
	} {
		if !m.Assess(utterance).Match {
			t.Errorf("expected match for %q", utterance)
		}
	}
}

func TestMatcherRejects(t *testing.T) {
	m := NewMatcher("clanker conk")
	for _, utterance := range []string{
		"get pranked",
		"its stinky in here",
		"Hi cleaner.",
		"",
		"what do you guys think",
		"hey everyone",
		"that was so clean",
	} {
		if m.Assess(utterance).Match {
			t.Errorf("expected no match for %q", utterance)
		}
	}
}

func TestMatcherNameLikeWithoutAccept(t *testing.T) {
	m := NewMatcher("clanker conk")
	res := m.Assess("get pranked")
	if res.Match {
		t.Fatal("should not match")
	}
	if !res.NameLike {
		t.Fatal("pranked should register as name-like")
	}
}

func TestMatcherSecondTokenReinforcement(t *testing.T) {
	m := NewMatcher("clanker conk")
	// "plink" alone mid-sentence is weak; "conk" nearby reinforces it.
	if m.Assess("was that plink talking").Match {
		t.Error("lone weak hit must not match")
	}
	if !m.Assess("was that plink conk talking").Match {
		t.Error("expected reinforcement match")
	}
}

func TestMatcherGenericTokensNeverNameLike(t *testing.T) {
	m := NewMatcher("clanker conk")
	res := m.Assess("hey chat")
	if res.NameLike {
		t.Error("crowd-call token must not be name-like")
	}
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"clanker": "clank",
		"clanka":  "clank",
		"clank":   "clank",
		"pranked": "prank",
		"stinky":  "stink",
		"cleaner": "clean",
	}
	for in, want := range cases {
		if got := stem(in); got != want {
			t.Errorf("stem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPhoneticCodeCollapsesDuplicates(t *testing.T) {
	if phoneticCode("conk") != phoneticCode("konck") {
		t.Error("expected equal codes for conk/konck")
	}
	if phoneticCode("clanker") == phoneticCode("cleaner") {
		t.Error("clanker and cleaner must differ")
	}
}

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"clank", "clank", 0},
		{"plink", "clank", 2},
		{"prank", "clank", 2},
		{"stink", "clank", 3},
	}
	for _, c := range cases {
		if got := editDistance(c.a, c.b); got != c.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
