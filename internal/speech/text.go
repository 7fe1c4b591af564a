package speech

import (
	"regexp"
	"strings"
)

// nonSpeech matches everything the synthesizer should not read aloud.
var nonSpeech = regexp.MustCompile(`[^\w\s.,!?]`)

// CleanText drops the first assistant marker and any symbols, emoji, or
// punctuation that would be spelled out by the speech engine.
func CleanText(text, marker string) string {
	if marker != "" {
		text = strings.Replace(text, marker+" ", "", 1)
	}
	text = nonSpeech.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// femaleNames are voices known to be female on common platforms.
var femaleNames = []string{"Female", "Samantha", "Karen"}

// PickVoice returns the voice to use. A preferred ID or name wins; otherwise
// the first voice flagged or named as female is chosen. Nil means the
// platform default.
func PickVoice(voices []Voice, preferred string) *Voice {
	if preferred != "" {
		for i := range voices {
			if strings.EqualFold(voices[i].ID, preferred) || strings.EqualFold(voices[i].Name, preferred) {
				return &voices[i]
			}
		}
	}

	for i := range voices {
		if isFemale(voices[i]) {
			return &voices[i]
		}
	}
	return nil
}

func isFemale(v Voice) bool {
	if strings.EqualFold(v.Gender, "female") {
		return true
	}
	for _, name := range femaleNames {
		if strings.Contains(v.Name, name) {
			return true
		}
	}
	return false
}
