package gallery

import "strings"

// Triggers are the phrases that make a chat message request an image.
var Triggers = []string{"generate image", "create picture", "draw", "صورة", "رسم"}

// IsImageRequest reports whether text contains a trigger phrase.
func IsImageRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range Triggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
