// Package carriers holds the static carrier pattern table and the matching
// logic over it: which carrier an email is probably about, and what its
// tracking code looks like.
package carriers

import "regexp"

// Carrier is one entry of the registry. Extraction patterns are tried in
// order, first match wins. Mention patterns only decide "this text is about
// carrier X" and never extract anything.
type Carrier struct {
	Name       string
	extraction []*regexp.Regexp
	mention    []*regexp.Regexp
}

// registry order is authoritative: carrier-specific formats come before the
// generic digit fallbacks, otherwise a 13-digit DPD number would be claimed
// by Generic13Digit first. Do not reorder without checking the overlaps.
var registry = []Carrier{
	{
		Name:       "Allegro",
		extraction: compile(`A000[a-zA-Z0-9]{6}`),
		mention:    compile(`(?i)allegro`),
	},
	{
		Name:       "InPost",
		extraction: compile(`\d{24}`),
		mention:    compile(`(?i)inpost`, `(?i)paczkomat`),
	},
	{
		Name: "DPD",
		extraction: compile(
			`\d{13}[A-Z]`,    // numer DPD zakończony literą
			`\d{14}`,         // numer DPD z 14 cyfr
			`[A-Z0-9]{14}`,   // numer DPD z 14 znaków (duże litery i cyfry)
		),
		mention: compile(`(?i)\bdpd\b`),
	},
	{
		Name: "DHL",
		extraction: compile(
			`JJD\d{21}`,
			`\d{10}`,
			`000\d{21}`,
		),
		mention: compile(`(?i)\bdhl\b`),
	},
	{
		Name:       "Pocztex",
		extraction: compile(`PX\d{10}`),
		mention:    compile(`(?i)pocztex`),
	},
	{
		Name: "Poczta Polska",
		extraction: compile(
			`\d{20}`,
			`PX\d{10}`,
		),
		mention: compile(`(?i)poczta\s+polska`),
	},
	// Generic fallbacks have no mention patterns: they are only reachable
	// through full-registry extraction when identification found nothing.
	{
		Name:       "Generic13Digit",
		extraction: compile(`\d{13}`),
	},
	{
		Name:       "Generic12Digit",
		extraction: compile(`\d{12}`),
	},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Names returns the carrier names in registry order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for _, c := range registry {
		out = append(out, c.Name)
	}
	return out
}

func lookup(name string) (*Carrier, bool) {
	for i := range registry {
		if registry[i].Name == name {
			return &registry[i], true
		}
	}
	return nil, false
}
