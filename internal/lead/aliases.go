package lead

import "strings"

// Attribute identifies a semantic lead attribute independent of the field
// names a particular source uses for it.
type Attribute string

const (
	AttrName     Attribute = "name"
	AttrRole     Attribute = "role"
	AttrCompany  Attribute = "company"
	AttrIndustry Attribute = "industry"
	AttrSize     Attribute = "size"
	AttrLocation Attribute = "location"
	AttrLink     Attribute = "link"
)

// aliases maps each semantic attribute to an ordered list of acceptable field
// names. The first present non-empty value wins. Keeps scoring decoupled from
// any one export dialect.
var aliases = map[Attribute][]string{
	AttrName:     {"name", "full name", "full_name", "contact", "contact name", "lead name"},
	AttrRole:     {"role", "title", "job title", "job_title", "position", "headline"},
	AttrCompany:  {"company", "company name", "company_name", "organization", "employer", "account"},
	AttrIndustry: {"industry", "sector", "vertical"},
	AttrSize:     {"size", "company size", "company_size", "employees", "headcount", "size bracket"},
	AttrLocation: {"location", "city", "country", "region"},
	AttrLink:     {"link", "url", "linkedin", "linkedin url", "linkedin_url", "profile", "website"},
}

// Resolve returns the lead's value for the given semantic attribute, trying
// each known field-name alias in order.
func (l Lead) Resolve(attr Attribute) string {
	for _, key := range aliases[attr] {
		for _, f := range l {
			if strings.EqualFold(strings.TrimSpace(f.Name), key) && strings.TrimSpace(f.Value) != "" {
				return strings.TrimSpace(f.Value)
			}
		}
	}
	return ""
}

// resolvedKeys returns the set of field names the alias resolution consumed
// for the canonical attributes, lowercased.
func (l Lead) resolvedKeys(attrs ...Attribute) map[string]bool {
	keys := make(map[string]bool)
	for _, attr := range attrs {
		for _, key := range aliases[attr] {
			for _, f := range l {
				if strings.EqualFold(strings.TrimSpace(f.Name), key) && strings.TrimSpace(f.Value) != "" {
					keys[strings.ToLower(strings.TrimSpace(f.Name))] = true
				}
			}
		}
	}
	return keys
}
