package matching

import "strings"

// PreferenceEveryone is the stored preference that accepts any gender.
const PreferenceEveryone = "everyone"

var openPreferences = map[string]bool{
	PreferenceEveryone: true,
	"all":              true,
	"any":              true,
	"open":             true,
}

// Preferences are stored as the plural the signup form shows; genders as
// the singular.
var preferenceGender = map[string]string{
	"men":        "man",
	"women":      "woman",
	"nonbinary":  "nonbinary",
	"non-binary": "nonbinary",
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func accepts(preference, gender string) bool {
	p := normalize(preference)
	if openPreferences[p] {
		return true
	}
	if g, ok := preferenceGender[p]; ok {
		p = g
	}
	return p == normalize(gender)
}

// PreferenceCompatible reports whether a and b accept each other. Missing
// gender or preference on either side makes the pair incompatible.
func PreferenceCompatible(a, b Identity) bool {
	if !a.complete() || !b.complete() {
		return false
	}
	return accepts(a.Preference, b.Gender) && accepts(b.Preference, a.Gender)
}

func (i Identity) complete() bool {
	return normalize(i.Gender) != "" && normalize(i.Preference) != ""
}
