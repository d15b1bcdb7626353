// ABOUTME: Matcher implementations over the rule lexicons
// ABOUTME: Includes a fuzzy greeting matcher tolerant of single typos and wrong keyboard layouts

package rules

import (
	"strings"
	"unicode"
)

// PhraseMatcher matches when the text contains any configured phrase.
type PhraseMatcher struct {
	phrases []string
}

// NewPhraseMatcher builds a case-insensitive substring matcher.
func NewPhraseMatcher(phrases []string) *PhraseMatcher {
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}
	return &PhraseMatcher{phrases: lowered}
}

// Match reports whether the text contains any of the configured phrases.
func (m *PhraseMatcher) Match(text string) bool {
	t := strings.ToLower(text)
	for _, p := range m.phrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// GreetingMatcher matches messages that consist of a greeting and nothing
// else. It tolerates a single-character typo and text typed on the wrong
// keyboard layout, so "helo" and "руддщ" both count as "hello".
type GreetingMatcher struct {
	words map[string]bool
}

// NewGreetingMatcher builds a greeting-only matcher from a word list.
func NewGreetingMatcher(words []string) *GreetingMatcher {
	m := &GreetingMatcher{words: make(map[string]bool, len(words))}
	for _, w := range words {
		m.words[normalize(w)] = true
	}
	return m
}

// Match reports whether the whole text is a single greeting.
func (m *GreetingMatcher) Match(text string) bool {
	t := normalize(text)
	if t == "" {
		return false
	}
	if m.words[t] {
		return true
	}
	// Wrong keyboard layout: translate and retry
	if swapped := swapLayout(t); m.words[swapped] {
		return true
	}
	// One-character typo
	for w := range m.words {
		if withinOneEdit(t, w) {
			return true
		}
	}
	return false
}

// normalize lowercases and strips punctuation and extra whitespace.
func normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// qwerty <-> ЙЦУКЕН, same physical keys
var layoutPairs = []struct{ latin, cyrillic string }{
	{"qwertyuiop[]", "йцукенгшщзхъ"},
	{"asdfghjkl;'", "фывапролджэ"},
	{"zxcvbnm,.", "ячсмитьбю"},
}

var latinToCyr, cyrToLatin = buildLayoutMaps()

func buildLayoutMaps() (map[rune]rune, map[rune]rune) {
	l2c := make(map[rune]rune)
	c2l := make(map[rune]rune)
	for _, row := range layoutPairs {
		latin := []rune(row.latin)
		cyr := []rune(row.cyrillic)
		for i := range latin {
			l2c[latin[i]] = cyr[i]
			c2l[cyr[i]] = latin[i]
		}
	}
	return l2c, c2l
}

// swapLayout translates text typed on the wrong keyboard layout.
// Direction is picked from the first letter; unmapped runes pass through.
func swapLayout(s string) string {
	table := latinToCyr
	for _, r := range s {
		if unicode.IsLetter(r) {
			if r >= 'а' && r <= 'я' {
				table = cyrToLatin
			}
			break
		}
	}
	var b strings.Builder
	for _, r := range s {
		if mapped, ok := table[r]; ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// withinOneEdit reports whether two strings differ by at most one
// insertion, deletion or substitution.
func withinOneEdit(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(rb)-len(ra) > 1 {
		return false
	}

	i, j, edits := 0, 0, 0
	for i < len(ra) && j < len(rb) {
		if ra[i] == rb[j] {
			i++
			j++
			continue
		}
		edits++
		if edits > 1 {
			return false
		}
		if len(ra) == len(rb) {
			i++ // substitution
		}
		j++ // insertion into the longer string
	}
	edits += len(rb) - j + len(ra) - i
	return edits <= 1
}

// ClassifyContact scores accumulated user text against the contact rules
// and returns the best matching class, or ContactClient when nothing
// matches. The second return reports whether that class auto-escalates.
func (s *Set) ClassifyContact(text string) (ContactClass, bool) {
	t := strings.ToLower(text)
	bestClass := ContactClient
	bestScore := 0
	bestEscalate := false
	for _, rule := range s.Contacts {
		score := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(t, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestClass = ContactClass(rule.Class)
			bestEscalate = rule.Escalate
		}
	}
	return bestClass, bestEscalate
}

// TopicRelevance outcomes
type TopicVerdict int

const (
	TopicRelevant TopicVerdict = iota
	TopicInPerson              // on-topic but better discussed in person
	TopicOffTopic
)

// JudgeTopic classifies a message against the topic rules.
func (s *Set) JudgeTopic(text string) TopicVerdict {
	t := strings.ToLower(text)
	relevant := false
	for _, kw := range s.Topic.Relevant {
		if strings.Contains(t, strings.ToLower(kw)) {
			relevant = true
			break
		}
	}
	if !relevant {
		return TopicOffTopic
	}
	for _, kw := range s.Topic.InPerson {
		if strings.Contains(t, strings.ToLower(kw)) {
			return TopicInPerson
		}
	}
	return TopicRelevant
}
