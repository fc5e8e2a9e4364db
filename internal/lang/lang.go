// Package lang holds the languages the assistant translates to and speaks.
package lang

import "strings"

// Default is the code used for any unrecognised language name.
const Default = "en"

// Language is a display name and its ISO-639-1 code.
type Language struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Supported lists the selectable languages in display order.
var Supported = []Language{
	{Name: "Arabic", Code: "ar"},
	{Name: "English", Code: "en"},
	{Name: "French", Code: "fr"},
	{Name: "Spanish", Code: "es"},
	{Name: "German", Code: "de"},
}

// Code maps a display name to its code. Unknown names map to Default.
func Code(name string) string {
	for _, l := range Supported {
		if l.Name == name {
			return l.Code
		}
	}
	return Default
}

// Names returns the display names in order.
func Names() []string {
	out := make([]string, len(Supported))
	for i, l := range Supported {
		out[i] = l.Name
	}
	return out
}

// IsSupported reports whether name is a known display name.
func IsSupported(name string) bool {
	for _, l := range Supported {
		if l.Name == name {
			return true
		}
	}
	return false
}

// Lookup finds a language by display name or code, ignoring case.
func Lookup(name string) (Language, bool) {
	name = strings.TrimSpace(name)
	for _, l := range Supported {
		if strings.EqualFold(l.Name, name) || strings.EqualFold(l.Code, name) {
			return l, true
		}
	}
	return Language{}, false
}

// IsEnglish reports whether name is the English display name. Unknown names
// are not English: translating to them targets Default.
func IsEnglish(name string) bool {
	return name == "English"
}
