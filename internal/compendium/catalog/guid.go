package catalog

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxSlugAttempts bounds collision suffix probing. Exhausting it means the
// store holds an implausible number of identically named entries and is
// treated as an integrity failure by the caller.
const maxSlugAttempts = 1000

var slugFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases a display name into a GUID segment. Diacritics are
// folded to their base letters, apostrophes vanish, and any other run of
// non-alphanumeric characters collapses to a single dash.
func Slugify(name string) string {
	folded, _, err := transform.String(slugFolder, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case r == '\'', r == '’':
			// Joined, not separated: "Cleric's" becomes "clerics".
		default:
			pendingDash = true
		}
	}
	return b.String()
}

// EntryGUID derives the base GUID for an entry from its system, type, and
// display name.
func EntryGUID(system, entryType, name string) (string, error) {
	slug := Slugify(name)
	if slug == "" {
		return "", fmt.Errorf("name %q produces an empty identifier", name)
	}
	return fmt.Sprintf("%s-%s-%s", system, entryType, slug), nil
}
