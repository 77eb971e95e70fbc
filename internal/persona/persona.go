package persona

import (
	"regexp"
	"strings"
)

// Persona is the parsed Target/Avoid/Prefer description of an ideal lead.
// Absent Avoid/Prefer slots mean "no constraint", not an empty constraint.
type Persona struct {
	Target string
	Avoid  string
	Prefer string
}

func (p Persona) HasAvoid() bool { return strings.TrimSpace(p.Avoid) != "" }

func (p Persona) HasPrefer() bool { return strings.TrimSpace(p.Prefer) != "" }

// freeFormTag prefixes free-form profile text so the embedding still carries
// the intent of the slot.
const freeFormTag = "Target profile: "

// Labels are recognized at the start of the text, of a line, or of a
// sentence, so "Target: VP Sales. Avoid: HR." on one line still splits.
var sectionLabel = regexp.MustCompile(`(?i)(?:\A|[\n.;])[\s*#>-]*(target|avoid|prefer)\s*:[ \t]*`)

// Parse splits a profile description into the three persona slots.
//
// Structured mode triggers when at least one Target/Avoid/Prefer label
// (case-insensitive, followed by a colon) is present; each section runs until
// the next recognized label or end of text. Without any label the whole text
// becomes the Target slot verbatim, tagged with a fixed prefix.
//
// Parse never fails. An empty Target is reported by the scoring path, which
// is also reached when the input is structured but the target section is
// blank.
func Parse(raw string) Persona {
	raw = strings.TrimSpace(raw)

	matches := sectionLabel.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		if raw == "" {
			return Persona{}
		}
		return Persona{Target: freeFormTag + raw}
	}

	var p Persona
	for i, m := range matches {
		label := strings.ToLower(raw[m[2]:m[3]])

		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}

		body := CleanMarkup(raw[m[1]:end])

		switch label {
		case "target":
			p.Target = body
		case "avoid":
			p.Avoid = body
		case "prefer":
			p.Prefer = body
		}
	}

	return p
}

var (
	emphasisMarkers = strings.NewReplacer("**", "", "__", "", "*", "", "`", "")
	bulletMarker    = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+`)
	headingMarker   = regexp.MustCompile(`(?m)^\s*#+\s*`)
)

// CleanMarkup strips common rich-text noise (emphasis, bullets, headings)
// from a section body. Formatting markers degrade embedding quality without
// adding meaning.
func CleanMarkup(s string) string {
	s = headingMarker.ReplaceAllString(s, "")
	s = bulletMarker.ReplaceAllString(s, "")
	s = emphasisMarkers.Replace(s)

	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}

	return strings.Join(kept, " ")
}
