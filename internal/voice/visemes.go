package voice

import (
	"strings"
	"unicode"

	"github.com/LEO0072003/VoiceAI/internal/protocol"
)

const visemeWordGapMS = 50

var charVisemes = map[rune]string{
	'a': "AA", 'e': "EE", 'i': "IH", 'o': "OO", 'u': "UH",
	'p': "PP", 'b': "PP", 'm': "MM",
	'f': "FF", 'v': "FF",
	't': "DD", 'd': "DD", 'n': "NN",
	's': "SS", 'z': "SS",
	'k': "KK", 'g': "KK",
	'r': "RR", 'l': "NN",
	'w': "WW", 'y': "EE",
}

// GenerateVisemes approximates a lip-sync track by spreading each word's
// letters evenly over its share of durationMS, with a short silence after
// every word.
func GenerateVisemes(text string, durationMS int) []protocol.Viseme {
	words := strings.Fields(strings.ToLower(text))
	visemes := make([]protocol.Viseme, 0, len(text)+len(words))
	if len(words) == 0 {
		return visemes
	}

	perWord := float64(durationMS) / float64(len(words))
	current := 0.0
	for _, word := range words {
		letters := make([]rune, 0, len(word))
		for _, r := range word {
			if unicode.IsLetter(r) {
				letters = append(letters, r)
			}
		}
		if len(letters) == 0 {
			current += perWord
			continue
		}
		perChar := perWord / float64(len(letters))
		for _, r := range letters {
			id, ok := charVisemes[r]
			if !ok {
				id = "DD"
			}
			visemes = append(visemes, protocol.Viseme{ID: id, Start: int(current), End: int(current + perChar)})
			current += perChar
		}
		visemes = append(visemes, protocol.Viseme{ID: "sil", Start: int(current), End: int(current + visemeWordGapMS)})
		current += visemeWordGapMS
	}
	return visemes
}
