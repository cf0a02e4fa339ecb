package carriers

// Identify returns, in registry order, the carriers whose mention patterns
// match the subject or body. An empty result is not a verdict: the caller
// falls back to trying every carrier's extraction patterns, identification
// is only a precedence hint.
func Identify(subject, body string) []string {
	var out []string
	for _, c := range registry {
		for _, re := range c.mention {
			if re.MatchString(subject) || re.MatchString(body) {
				out = append(out, c.Name)
				break
			}
		}
	}
	return out
}

// Extract applies the named carrier's extraction patterns to body in order
// and returns the first match. Unknown carrier or no match reports ok=false.
func Extract(carrier, body string) (string, bool) {
	c, found := lookup(carrier)
	if !found {
		return "", false
	}
	for _, re := range c.extraction {
		if m := re.FindString(body); m != "" {
			return m, true
		}
	}
	return "", false
}

// ExtractAny walks the candidate carriers and returns the first carrier that
// yields a code, stopping there. With no candidates the whole registry is
// tried, so a message is never dropped just because no carrier was mentioned.
func ExtractAny(candidates []string, body string) (carrier, code string, ok bool) {
	if len(candidates) == 0 {
		candidates = Names()
	}
	for _, name := range candidates {
		if c, found := Extract(name, body); found {
			return name, c, true
		}
	}
	return "", "", false
}
