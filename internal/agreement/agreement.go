// Package agreement compares a produced ranking against a gold ranking.
package agreement

// Spearman computes Spearman's rank correlation between two rank arrays
// aligned by index: ours[i] and gold[i] are the two ranks of the same lead.
// The result lies in [-1, 1]; 1 means identical order, -1 fully reversed.
// Returns the neutral value 0 when fewer than two elements are compared or
// the arrays disagree in length.
func Spearman(ours, gold []int) float64 {
	n := len(ours)
	if n < 2 || n != len(gold) {
		return 0
	}

	var sumSq float64
	for i := range ours {
		d := float64(ours[i] - gold[i])
		sumSq += d * d
	}

	nf := float64(n)
	return 1 - (6*sumSq)/(nf*(nf*nf-1))
}

// RecallAtK is the fraction of gold top-K leads also present in the produced
// top-K. Returns 0 when K is out of range.
func RecallAtK(ours, gold []int, k int) float64 {
	n := len(ours)
	if k < 1 || k > n || n != len(gold) {
		return 0
	}

	hits := 0
	for i := range gold {
		if gold[i] <= k && ours[i] <= k {
			hits++
		}
	}

	return float64(hits) / float64(k)
}

// MRRAtK is the mean reciprocal produced rank over the gold top-K leads.
// Returns 0 when K is out of range.
func MRRAtK(ours, gold []int, k int) float64 {
	n := len(ours)
	if k < 1 || k > n || n != len(gold) {
		return 0
	}

	var sum float64
	for i := range gold {
		if gold[i] <= k && ours[i] >= 1 {
			sum += 1 / float64(ours[i])
		}
	}

	return sum / float64(k)
}
