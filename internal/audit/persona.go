package audit

import (
	"regexp"
	"strings"
)

var (
	personaTokenPattern = regexp.MustCompile(`\bP\d+\b`)
	nonIdentRuns        = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// NewPersona ingests a free-form persona brief and derives the persona's
// stable identifier.
//
// Derivation order:
//  1. If the first non-empty line starts with "Persona:" or
//     "Persona Brief:", the remainder of that line is sanitized into the
//     id (runs of non-alphanumerics collapse to a single underscore).
//  2. Otherwise, the first token matching P\d+ anywhere in the brief.
//  3. Otherwise, "default_persona".
func NewPersona(brief string) Persona {
	name, id := derivePersonaID(brief)
	return Persona{ID: id, Name: name, Brief: brief}
}

func derivePersonaID(brief string) (name, id string) {
	for _, line := range strings.Split(brief, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, prefix := range []string{"Persona Brief:", "Persona:"} {
			if strings.HasPrefix(line, prefix) {
				name = strings.TrimSpace(strings.TrimPrefix(line, prefix))
				if name != "" {
					return name, sanitizeIdent(name)
				}
			}
		}
		break
	}

	if tok := personaTokenPattern.FindString(brief); tok != "" {
		return tok, tok
	}

	return "default_persona", "default_persona"
}

// sanitizeIdent collapses every run of non-alphanumeric characters into a
// single underscore and trims leading/trailing underscores.
func sanitizeIdent(s string) string {
	s = nonIdentRuns.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
