package lead

import (
	"encoding/json"
	"fmt"
	"os"
)

// EvalLead pairs a lead with its gold rank inside an evaluation set. Gold
// ranks form a dense 1..N total order assigned when the set is loaded and
// immutable afterwards.
type EvalLead struct {
	Lead     Lead `json:"lead"`
	GoldRank int  `json:"gold_rank"`
}

// LoadEvalSet reads an evaluation set from a JSON file and validates that the
// gold ranks form a dense 1..N ranking with no ties or gaps.
func LoadEvalSet(path string) ([]EvalLead, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading evaluation set: %w", err)
	}

	var set []EvalLead
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing evaluation set %q: %w", path, err)
	}

	if err := ValidateGoldRanks(set); err != nil {
		return nil, fmt.Errorf("evaluation set %q: %w", path, err)
	}

	return set, nil
}

// ValidateGoldRanks checks that the set's gold ranks are a permutation of 1..N.
func ValidateGoldRanks(set []EvalLead) error {
	seen := make(map[int]bool, len(set))
	for i, ev := range set {
		rank := ev.GoldRank
		if rank < 1 || rank > len(set) {
			return fmt.Errorf("lead %d has gold rank %d outside 1..%d", i, rank, len(set))
		}
		if seen[rank] {
			return fmt.Errorf("gold rank %d assigned twice", rank)
		}
		seen[rank] = true
	}
	return nil
}
