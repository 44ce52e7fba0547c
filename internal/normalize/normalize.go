// Package normalize canonicalizes free-form conversational text before it is
// fingerprinted or classified.
package normalize

import (
	"strings"
	"unicode"
)

// Leading boilerplate stripped from the head of a message. Matched after
// lowercasing, longest phrase first.
var leadingBoilerplate = []string{
	"お世話になっております",
	"おはようございます",
	"お疲れ様です",
	"お疲れさまです",
	"おつかれさまです",
	"こんにちは",
	"こんばんは",
	"おはよう",
	"すみません",
	"すいません",
	"恐れ入りますが",
	"good morning",
	"good afternoon",
	"good evening",
	"hello",
	"hi there",
	"hey",
	"hi",
	"excuse me",
	"quick question",
	"sorry to bother you",
}

// Trailing politeness stripped from the tail of a message.
var trailingBoilerplate = []string{
	"よろしくお願いいたします",
	"よろしくお願いします",
	"お願いいたします",
	"お願いします",
	"ありがとうございます",
	"ありがとう",
	"thank you in advance",
	"thank you",
	"thanks in advance",
	"thanks",
}

// Normalize strips greeting/politeness boilerplate, collapses whitespace,
// lowercases, and removes trailing punctuation. It is deterministic and
// idempotent: Normalize(Normalize(x)) == Normalize(x). The empty string is
// returned for inputs that reduce to nothing meaningful; callers must treat
// that as "not analyzable" and skip further processing.
func Normalize(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = collapseWhitespace(text)

	for changed := true; changed; {
		changed = false
		if trimmed := strings.TrimRightFunc(text, isStrippablePunct); trimmed != text {
			text = trimmed
			changed = true
		}
		for _, phrase := range leadingBoilerplate {
			if rest, ok := stripPrefix(text, phrase); ok {
				text = rest
				changed = true
			}
		}
		for _, phrase := range trailingBoilerplate {
			if rest, ok := stripSuffix(text, phrase); ok {
				text = rest
				changed = true
			}
		}
	}

	text = strings.TrimRightFunc(text, isStrippablePunct)
	text = strings.TrimLeftFunc(text, isSeparator)
	return strings.TrimSpace(text)
}

func stripPrefix(text, phrase string) (string, bool) {
	if !strings.HasPrefix(text, phrase) {
		return text, false
	}
	rest := text[len(phrase):]
	// ASCII phrases only strip at a word boundary so "history" keeps its
	// "hi". Japanese has no spacing, so CJK phrases strip unconditionally.
	if asciiPhrase(phrase) && rest != "" && !startsWithSeparator(rest) {
		return text, false
	}
	return strings.TrimLeftFunc(rest, isSeparator), true
}

func stripSuffix(text, phrase string) (string, bool) {
	if !strings.HasSuffix(text, phrase) {
		return text, false
	}
	rest := text[:len(text)-len(phrase)]
	if asciiPhrase(phrase) && rest != "" && !endsWithSeparator(rest) {
		return text, false
	}
	return strings.TrimRightFunc(rest, isSeparator), true
}

func asciiPhrase(phrase string) bool {
	for _, r := range phrase {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func startsWithSeparator(s string) bool {
	for _, r := range s {
		return isSeparator(r)
	}
	return false
}

func endsWithSeparator(s string) bool {
	var last rune
	for _, r := range s {
		last = r
	}
	return isSeparator(last)
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(",、。．.!?！？:：;；-ー~〜", r)
}

func isStrippablePunct(r rune) bool {
	return strings.ContainsRune("。．.!?！？、,;；", r) || unicode.IsSpace(r)
}

func collapseWhitespace(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
