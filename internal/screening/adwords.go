package screening

import (
	"strings"
)

// matchAdTokens runs the deterministic ad matcher over the given strings:
// case-insensitive substring search against the word list, then the named
// regex patterns. The first hit wins and is binding.
func (p *Pipeline) matchAdTokens(texts ...string) (string, bool) {
	for _, text := range texts {
		if text == "" {
			continue
		}
		lowered := strings.ToLower(text)
		for _, word := range p.words {
			if word == "" {
				continue
			}
			if strings.Contains(lowered, strings.ToLower(word)) {
				return word, true
			}
		}
		for _, named := range p.patterns {
			if named.Pattern.MatchString(text) {
				return "pattern:" + named.Name, true
			}
		}
	}
	return "", false
}
