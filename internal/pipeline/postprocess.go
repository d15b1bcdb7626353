// ABOUTME: Post-processing of generated replies before delivery
// ABOUTME: Strips forbidden phrases, normalizes whitespace and removes duplicated greetings

package pipeline

import (
	"strings"
	"unicode"
)

var greetingOpeners = []string{
	"hello!", "hello,", "hello.", "hi!", "hi,", "hi.",
	"hey!", "hey,", "good morning", "good afternoon", "good evening",
	"hello and welcome",
}

// postProcess cleans a generated reply. When a greeting lead-in is already
// queued, a greeting opener in the generated text is dropped so the user
// is not greeted twice in one turn.
func postProcess(text string, leadIn []string) string {
	out := stripForbidden(text)

	if len(leadIn) > 0 {
		out = stripLeadingGreeting(out)
	}

	return normalizeWhitespace(out)
}

// stripForbidden removes every sentence containing a forbidden phrase.
func stripForbidden(text string) string {
	sentences := splitSentences(text)
	var kept []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		drop := false
		for _, phrase := range forbiddenPhrases {
			if strings.Contains(lower, phrase) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, " ")
}

func stripLeadingGreeting(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, opener := range greetingOpeners {
		if strings.HasPrefix(lower, opener) {
			rest := strings.TrimSpace(text[len(opener):])
			rest = strings.TrimLeft(rest, "!,. ")
			if rest == "" {
				return text
			}
			// Re-capitalize the new first rune
			runes := []rune(rest)
			runes[0] = unicode.ToUpper(runes[0])
			return string(runes)
		}
	}
	return text
}

// splitSentences breaks text on sentence-final punctuation, keeping the
// punctuation with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
