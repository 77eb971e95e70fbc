package lead

import (
	"encoding/json"
	"fmt"
	"os"
)

// Leads is an ordered collection of candidate records.
type Leads struct {
	Items []Lead `json:"items"`
}

func (l *Leads) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Items)
}

// FromFile loads leads from a JSON file containing either a bare array of
// objects or an {"items": [...]} wrapper.
func FromFile(path string) (*Leads, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading leads file: %w", err)
	}

	var items []Lead
	if err := json.Unmarshal(data, &items); err == nil {
		return &Leads{Items: items}, nil
	}

	var wrapped Leads
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing leads file %q: %w", path, err)
	}

	return &wrapped, nil
}

// ReportByCompany groups lead descriptions under their company attribute.
func (l *Leads) ReportByCompany() map[string][]string {
	report := make(map[string][]string)
	for _, item := range l.Items {
		company := item.Resolve(AttrCompany)
		if company == "" {
			company = "unknown"
		}
		report[company] = append(report[company], item.Text())
	}
	return report
}
