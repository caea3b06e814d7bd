package classify

import (
	"strings"
	"unicode"
)

// NERScoreThreshold drops low-confidence entity spans.
const NERScoreThreshold = 0.8

// NERModel recognises person-like spans. It scores capitalized token
// sequences anchored on a given-name gazetteer; only PERSON spans at or
// above the threshold are emitted, under the reserved classifier id 0.
type NERModel struct {
	givenNames map[string]struct{}
}

// NewNERModel loads the built-in gazetteer.
func NewNERModel() *NERModel {
	m := &NERModel{givenNames: map[string]struct{}{}}
	for _, n := range gazetteer {
		m.givenNames[n] = struct{}{}
	}
	return m
}

// Scan emits PERSON matches with model scores.
func (m *NERModel) Scan(text string) []Match {
	var out []Match
	toks := tokenize(text)
	for i := 0; i < len(toks); i++ {
		if !m.isGivenName(toks[i].text) {
			continue
		}
		// Extend over following capitalized tokens (middle/surnames).
		j := i + 1
		for j < len(toks) && j-i < 3 && isNameShaped(toks[j].text) && adjacent(toks[j-1], toks[j], text) {
			j++
		}
		span := toks[i:j]
		score := m.score(span)
		if score >= NERScoreThreshold {
			out = append(out, Match{
				ClassifierID: 0,
				Name:         "PERSON",
				Start:        span[0].start,
				End:          span[len(span)-1].end,
				Score:        score,
			})
			i = j - 1
		}
	}
	return out
}

func (m *NERModel) isGivenName(tok string) bool {
	if !isNameShaped(tok) {
		return false
	}
	_, ok := m.givenNames[strings.ToLower(tok)]
	return ok
}

// score grows with span length: a lone given name is ambiguous, a
// given name followed by surname-shaped tokens is not.
func (m *NERModel) score(span []token) float64 {
	switch len(span) {
	case 1:
		return 0.55
	case 2:
		return 0.91
	default:
		return 0.86
	}
}

type token struct {
	text  string
	start int
	end   int
}

func tokenize(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || r == '\'' || r == '-' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			toks = append(toks, token{text: text[start:i], start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		toks = append(toks, token{text: text[start:], start: start, end: len(text)})
	}
	return toks
}

// isNameShaped accepts a capitalized word with a lowercase tail.
func isNameShaped(tok string) bool {
	if len(tok) < 2 {
		return false
	}
	runes := []rune(tok)
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	lower := 0
	for _, r := range runes[1:] {
		if unicode.IsUpper(r) {
			return false
		}
		if unicode.IsLower(r) {
			lower++
		}
	}
	return lower > 0
}

// adjacent requires the tokens to be separated by at most one space.
func adjacent(a, b token, text string) bool {
	gap := text[a.end:b.start]
	return gap == " " || gap == ""
}

// gazetteer lists common given names; model files with the full
// distribution are a deployment concern.
var gazetteer = []string{
	"james", "mary", "john", "patricia", "robert", "jennifer", "michael",
	"linda", "william", "elizabeth", "david", "barbara", "richard", "susan",
	"joseph", "jessica", "thomas", "sarah", "charles", "karen", "christopher",
	"nancy", "daniel", "lisa", "matthew", "betty", "anthony", "margaret",
	"mark", "sandra", "donald", "ashley", "steven", "kimberly", "paul",
	"emily", "andrew", "donna", "joshua", "michelle", "kenneth", "dorothy",
	"kevin", "carol", "brian", "amanda", "george", "melissa", "edward",
	"deborah", "ronald", "stephanie", "timothy", "rebecca", "jason", "sharon",
	"jeffrey", "laura", "ryan", "cynthia", "jacob", "kathleen", "gary",
	"amy", "nicholas", "angela", "eric", "shirley", "jonathan", "anna",
	"stephen", "brenda", "larry", "pamela", "justin", "emma", "scott",
	"nicole", "brandon", "helen", "benjamin", "samantha", "samuel",
	"katherine", "gregory", "christine", "frank", "debra", "alexander",
	"rachel", "raymond", "carolyn", "patrick", "janet", "jack", "catherine",
	"dennis", "maria", "jerry", "heather", "tyler", "diane", "aaron", "ruth",
	"jose", "julie", "adam", "olivia", "nathan", "joyce", "henry", "virginia",
	"douglas", "victoria", "zachary", "kelly", "peter", "lauren", "kyle",
	"christina", "ethan", "joan", "walter", "evelyn", "noah", "judith",
	"jeremy", "megan", "christian", "andrea", "keith", "cheryl", "roger",
	"hannah", "terry", "jacqueline", "harold", "martha", "sean", "gloria",
	"austin", "teresa", "carl", "ann", "arthur", "sara", "lawrence",
	"madison", "dylan", "frances", "jesse", "kathryn", "jordan", "janice",
	"bryan", "jean", "billy", "abigail", "joe", "alice", "bruce", "julia",
	"gabriel", "judy", "logan", "sophia", "albert", "grace", "willie",
	"denise", "alan", "amber", "juan", "doris", "wayne", "marilyn", "elijah",
	"danielle", "randy", "beverly", "roy", "isabella", "vincent", "theresa",
	"ralph", "diana", "eugene", "natalie", "russell", "brittany", "bobby",
	"charlotte", "mason", "marie", "philip", "kayla", "louis", "alexis",
	"gerald", "lori",
}
