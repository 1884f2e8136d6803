// Package addressing decides whether an utterance targets the agent rather
// than another human in the channel. A deterministic phonetic matcher handles
// the common cases; a bounded LLM yes/no classifier covers the rest.
package addressing

import (
	"strings"
	"unicode"
)

// Matcher detects spoken references to the configured bot name, tolerating
// the mangling that speech recognition applies to made-up names.
type Matcher struct {
	primary   string   // longest distinguishing name token
	secondary []string // remaining distinguishing name tokens
	anchors   map[rune]bool
	primStem  string
	primCode  string
}

// MatchResult reports what the matcher found in one utterance.
type MatchResult struct {
	Match    bool   // the utterance addresses the bot
	NameLike bool   // a name-like token was present, even if unaccepted
	Token    string // the token that triggered the result
}

// Tokens that are crowd calls or too common to ever count as a name.
var genericTokens = map[string]bool{
	"guys": true, "everyone": true, "everybody": true, "anybody": true,
	"anyone": true, "somebody": true, "chat": true, "bro": true, "bruh": true,
	"dude": true, "man": true, "yall": true, "all": true, "bot": true,
	"robot": true, "ai": true, "the": true, "that": true, "this": true,
	"you": true, "yeah": true, "like": true, "what": true, "who": true,
}

var greetings = map[string]bool{
	"yo": true, "hey": true, "hi": true, "hello": true, "sup": true,
	"ayo": true, "oi": true, "heya": true, "howdy": true,
}

// Hard consonants that survive speech mangling; a fuzzy candidate must share
// one with the primary name token.
var hardConsonants = map[rune]bool{
	'b': true, 'd': true, 'g': true, 'j': true, 'k': true,
	'p': true, 'q': true, 't': true, 'x': true, 'z': true,
}

// NewMatcher builds a matcher for the configured bot name.
func NewMatcher(botName string) *Matcher {
	tokens := tokenize(botName)

	primary := ""
	var rest []string
	for _, tok := range tokens {
		if genericTokens[tok] || len(tok) < 3 {
			continue
		}
		if len(tok) > len(primary) {
			if primary != "" {
				rest = append(rest, primary)
			}
			primary = tok
		} else {
			rest = append(rest, tok)
		}
	}
	if primary == "" && len(tokens) > 0 {
		primary = tokens[0]
	}

	anchors := make(map[rune]bool)
	for _, r := range primary {
		if hardConsonants[r] {
			anchors[r] = true
		}
	}

	return &Matcher{
		primary:   primary,
		secondary: rest,
		anchors:   anchors,
		primStem:  stem(primary),
		primCode:  phoneticCode(primary),
	}
}

// Assess scans an utterance for the bot name. Exact, stem and phonetic hits
// are accepted directly; fuzzier hits need reinforcement from a second name
// token or one of the fixed call shapes.
func (m *Matcher) Assess(utterance string) MatchResult {
	tokens := tokenize(utterance)
	if len(tokens) == 0 || m.primary == "" {
		return MatchResult{}
	}

	result := MatchResult{}
	for i, tok := range tokens {
		strength := m.classify(tok)
		if strength == hitNone {
			continue
		}
		result.NameLike = true
		if result.Token == "" {
			result.Token = tok
		}
		if strength == hitStrong {
			return MatchResult{Match: true, NameLike: true, Token: tok}
		}
		if m.reinforced(tokens, i) || m.callShape(tokens, i) {
			return MatchResult{Match: true, NameLike: true, Token: tok}
		}
	}
	return result
}

type hitStrength int

const (
	hitNone hitStrength = iota
	hitWeak
	hitStrong
)

func (m *Matcher) classify(tok string) hitStrength {
	if genericTokens[tok] || len(tok) < 3 {
		return hitNone
	}
	if tok == m.primary || stem(tok) == m.primStem || phoneticCode(tok) == m.primCode {
		return hitStrong
	}
	if !m.sharesAnchor(tok) {
		return hitNone
	}
	st := stem(tok)
	if editDistance(tok, m.primary) <= 2 || editDistance(st, m.primStem) <= 2 {
		return hitWeak
	}
	if sharedConsonants(st, m.primStem) >= 2 {
		return hitWeak
	}
	return hitNone
}

func (m *Matcher) sharesAnchor(tok string) bool {
	for _, r := range tok {
		if m.anchors[r] {
			return true
		}
	}
	return false
}

// reinforced reports whether a second distinguishing name token appears
// within two positions of the candidate.
func (m *Matcher) reinforced(tokens []string, i int) bool {
	for j := max(0, i-2); j < len(tokens) && j <= i+2; j++ {
		if j == i {
			continue
		}
		for _, name := range m.secondary {
			tok := tokens[j]
			if tok == name || stem(tok) == stem(name) || phoneticCode(tok) == phoneticCode(name) {
				return true
			}
		}
	}
	return false
}

// callShape matches the fixed utterance shapes that make a fuzzy hit
// convincing: a greeting shortly before the name, "is that u <name>?",
// "did i just hear a[n] <name>?", and a callout right after "love" in a
// short utterance.
func (m *Matcher) callShape(tokens []string, i int) bool {
	for g := max(0, i-4); g < i; g++ {
		if greetings[tokens[g]] {
			return true
		}
	}
	if i >= 3 && tokens[i-3] == "is" && tokens[i-2] == "that" &&
		(tokens[i-1] == "u" || tokens[i-1] == "you") {
		return true
	}
	if i >= 5 && tokens[i-5] == "did" && tokens[i-4] == "i" && tokens[i-3] == "just" &&
		tokens[i-2] == "hear" && (tokens[i-1] == "a" || tokens[i-1] == "an") {
		return true
	}
	if i >= 1 && tokens[i-1] == "love" && len(tokens) <= 5 {
		return true
	}
	return false
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var stemSuffixes = []string{"ers", "ing", "ed", "er", "es", "s", "a", "o", "y"}

// stem strips one common suffix so "clanker", "clanka" and "clank" compare
// equal.
func stem(tok string) string {
	for _, suf := range stemSuffixes {
		if strings.HasSuffix(tok, suf) && len(tok)-len(suf) >= 3 {
			return tok[:len(tok)-len(suf)]
		}
	}
	return tok
}

// phoneticCode digit-encodes consonant classes, collapsing consecutive
// duplicates, so "conk" and "konc" encode identically.
func phoneticCode(tok string) string {
	var sb strings.Builder
	var last byte
	for _, r := range tok {
		var code byte
		switch r {
		case 'b', 'f', 'p', 'v':
			code = '1'
		case 'c', 'g', 'j', 'k', 'q', 's', 'x', 'z':
			code = '2'
		case 'd', 't':
			code = '3'
		case 'l':
			code = '4'
		case 'm', 'n':
			code = '5'
		case 'r':
			code = '6'
		default:
			last = 0
			continue
		}
		if code != last {
			sb.WriteByte(code)
		}
		last = code
	}
	return sb.String()
}

func sharedConsonants(a, b string) int {
	seen := make(map[rune]bool)
	for _, r := range a {
		if !strings.ContainsRune("aeiou", r) {
			seen[r] = true
		}
	}
	count := 0
	for _, r := range b {
		if seen[r] {
			count++
			seen[r] = false
		}
	}
	return count
}

func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
