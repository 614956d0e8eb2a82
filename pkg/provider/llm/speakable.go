package llm

import (
	"strings"
	"unicode/utf8"
)

// sentenceEnds terminate a spoken sentence, including the Devanagari danda.
const sentenceEnds = ".!?।"

// markup is removed because text-to-speech engines read it aloud.
var markup = strings.NewReplacer("**", "", "__", "", "`", "", "#", "")

// Speakable prepares reply text for synthesis. Markdown emphasis, headings and
// list bullets are removed and the lines joined into one paragraph. A
// truncated reply is cut back to its last complete sentence so the caller
// does not hear a word chopped in half; without any sentence end the text is
// kept whole.
func Speakable(text string, truncated bool) string {
	lines := strings.Split(markup.Replace(text), "\n")
	words := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimLeft(strings.TrimSpace(l), "-*• ")
		words = append(words, strings.Fields(l)...)
	}
	text = strings.Join(words, " ")
	if !truncated {
		return text
	}
	if i := strings.LastIndexAny(text, sentenceEnds); i > 0 {
		_, size := utf8.DecodeRuneInString(text[i:])
		return text[:i+size]
	}
	return text
}
