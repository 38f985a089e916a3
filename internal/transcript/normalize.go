package transcript

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	pronounIContractionPattern = regexp.MustCompile(`\bi['’](?:m|d|ll|ve|re|s)\b`)
	pronounIWordPattern        = regexp.MustCompile(`\bi\b`)
)

// Polish tidies a dispatch candidate: whitespace collapsed, sentence starts
// uppercased, standalone pronoun i restored. The recognizer backends already
// punctuate their finals, so casing keys off that punctuation.
func Polish(text string) string {
	text = cleanFragment(text)
	if text == "" {
		return ""
	}

	text = capitalizeSentenceStarts(text)
	text = pronounIContractionPattern.ReplaceAllStringFunc(text, func(match string) string {
		return "I" + match[1:]
	})
	return capitalizePronounI(text)
}

// capitalizeSentenceStarts uppercases the first letter of the text and of
// every sentence that follows a terminal period, bang, or question mark.
// Periods inside decimals, initialisms, and known abbreviations do not end
// a sentence.
func capitalizeSentenceStarts(text string) string {
	runes := []rune(text)

	var out strings.Builder
	out.Grow(len(text))

	capitalizeStart := true
	pendingBoundary := false
	sawWhitespaceAfterBoundary := false

	for i, r := range runes {
		if capitalizeStart && unicode.IsLetter(r) {
			if shouldCapitalizeWordAt(runes, i) {
				r = unicode.ToUpper(r)
			}
			capitalizeStart = false
			pendingBoundary = false
			sawWhitespaceAfterBoundary = false
		} else if pendingBoundary {
			switch {
			case unicode.IsSpace(r):
				sawWhitespaceAfterBoundary = true
			case unicode.IsLetter(r):
				if sawWhitespaceAfterBoundary && shouldCapitalizeWordAt(runes, i) {
					r = unicode.ToUpper(r)
				}
				pendingBoundary = false
				sawWhitespaceAfterBoundary = false
			case unicode.IsDigit(r):
				pendingBoundary = false
				sawWhitespaceAfterBoundary = false
			case isSentencePrefixRune(r):
				// Keep waiting for a letter. This supports punctuation like: . "quote"
			default:
				if !sawWhitespaceAfterBoundary {
					pendingBoundary = false
					sawWhitespaceAfterBoundary = false
				}
			}
		}

		out.WriteRune(r)

		switch r {
		case '.':
			if isSentenceBoundaryPeriod(runes, i) {
				pendingBoundary = true
				sawWhitespaceAfterBoundary = false
			} else {
				pendingBoundary = false
				sawWhitespaceAfterBoundary = false
			}
		case '!', '?':
			pendingBoundary = true
			sawWhitespaceAfterBoundary = false
		}
	}

	return out.String()
}

func shouldCapitalizeWordAt(runes []rune, idx int) bool {
	token := strings.ToLower(strings.Trim(wordTokenFromIndex(runes, idx), "."))
	if token == "" {
		return true
	}
	return !isLowercaseSentenceAbbreviation(token)
}

func wordTokenFromIndex(runes []rune, idx int) string {
	if idx < 0 || idx >= len(runes) {
		return ""
	}

	end := idx
	for end < len(runes) {
		r := runes[end]
		if unicode.IsLetter(r) || r == '.' {
			end++
			continue
		}
		break
	}

	return string(runes[idx:end])
}

func isSentencePrefixRune(r rune) bool {
	switch r {
	case ')', ']', '}', '\'', '"', '’', '”':
		return true
	default:
		return false
	}
}

func capitalizePronounI(text string) string {
	matches := pronounIWordPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))

	last := 0
	for _, match := range matches {
		start, end := match[0], match[1]
		out.WriteString(text[last:start])
		if insideDottedToken(text, start, end) {
			out.WriteString(text[start:end])
		} else {
			out.WriteString("I")
		}
		last = end
	}

	out.WriteString(text[last:])
	return out.String()
}

// insideDottedToken keeps abbreviations like i.e. intact: an i followed by a
// period and a letter, or sandwiched between letter-period pairs, is part of
// a dotted token rather than the pronoun.
func insideDottedToken(text string, start int, end int) bool {
	if end+1 < len(text) && text[end] == '.' {
		next, _ := utf8.DecodeRuneInString(text[end+1:])
		if unicode.IsLetter(next) {
			return true
		}
	}

	if start > 1 && text[start-1] == '.' && end < len(text) && text[end] == '.' {
		prev, _ := utf8.DecodeLastRuneInString(text[:start-1])
		if unicode.IsLetter(prev) {
			return true
		}
	}

	return false
}
