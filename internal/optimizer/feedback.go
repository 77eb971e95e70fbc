package optimizer

import (
	"fmt"
	"strings"

	"github.com/spigell/leadrank/internal/lead"
)

// maxFeedbackExamples caps each diagnostic list so the feedback stays terse
// enough to embed in a proposal prompt.
const maxFeedbackExamples = 3

// BuildFeedback derives a short diagnostic from two rank arrays aligned with
// the evaluation set: which gold top-k leads the produced ranking pushed out,
// and which produced top-k leads the gold ranking keeps out. Returns empty
// text when the two rankings agree on the top-k.
func BuildFeedback(evalLeads []lead.EvalLead, ours, gold []int, k int) string {
	n := len(evalLeads)
	if n == 0 || len(ours) != n || len(gold) != n {
		return ""
	}
	if k > n {
		k = n
	}
	if k < 1 {
		return ""
	}

	var tooLow, tooHigh []string
	for i := range evalLeads {
		switch {
		case gold[i] <= k && ours[i] > k:
			tooLow = append(tooLow, fmt.Sprintf("%s (gold rank %d, ranked %d)", describe(evalLeads[i].Lead), gold[i], ours[i]))
		case ours[i] <= k && gold[i] > k:
			tooHigh = append(tooHigh, fmt.Sprintf("%s (ranked %d, gold rank %d)", describe(evalLeads[i].Lead), ours[i], gold[i]))
		}
	}

	if len(tooLow) == 0 && len(tooHigh) == 0 {
		return ""
	}

	var parts []string
	if len(tooLow) > 0 {
		parts = append(parts, "Ranked too low: "+strings.Join(cap3(tooLow), "; ")+".")
	}
	if len(tooHigh) > 0 {
		parts = append(parts, "Ranked too high: "+strings.Join(cap3(tooHigh), "; ")+".")
	}

	return strings.Join(parts, "\n")
}

func cap3(list []string) []string {
	if len(list) > maxFeedbackExamples {
		return list[:maxFeedbackExamples]
	}
	return list
}

func describe(l lead.Lead) string {
	name := l.Resolve(lead.AttrName)
	if name == "" {
		name = l.Resolve(lead.AttrRole)
	}
	if name == "" {
		name = "unnamed lead"
	}

	if company := l.Resolve(lead.AttrCompany); company != "" {
		return name + " at " + company
	}
	return name
}
