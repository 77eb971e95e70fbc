package lead

import "strings"

// canonicalOrder lists the attributes emitted first by the text projection.
// Role and company carry the highest discriminative value for matching, so
// they lead the serialized form.
var canonicalOrder = []Attribute{AttrRole, AttrCompany, AttrIndustry, AttrSize, AttrLocation}

// Text serializes the lead into the descriptive form handed to the embedding
// provider. Canonical attributes come first in a fixed order; remaining fields
// follow in source order, minus fields already represented by a canonical slot
// and link-style identifiers, which add no semantic signal.
func (l Lead) Text() string {
	parts := make([]string, 0, len(l)+2)

	for _, attr := range canonicalOrder {
		if value := l.Resolve(attr); value != "" {
			parts = append(parts, string(attr)+": "+value)
		}
	}

	consumed := l.resolvedKeys(append(canonicalOrder, AttrLink)...)
	for _, f := range l {
		name := strings.ToLower(strings.TrimSpace(f.Name))
		value := strings.TrimSpace(f.Value)
		if name == "" || value == "" || consumed[name] {
			continue
		}
		parts = append(parts, name+": "+value)
	}

	return strings.Join(parts, "; ")
}

// Identity returns a stable cache key for the lead, built from its name and
// company. Leads without a name fall back to the role attribute.
func (l Lead) Identity() string {
	name := l.Resolve(AttrName)
	if name == "" {
		name = l.Resolve(AttrRole)
	}
	company := l.Resolve(AttrCompany)

	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(company))
}
