package vectorstore

import "math"

// MMR picks up to k candidate indexes trading relevance to query against
// similarity to what was already picked. lambda 1 is pure relevance, 0 pure
// diversity. Equal scores go to the less redundant candidate, so a query that
// duplicates the first pick still diversifies. Candidates without a vector
// are never picked.
func MMR(query []float32, candidates [][]float32, k int, lambda float32) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	relevance := make([]float64, len(candidates))
	available := make([]bool, len(candidates))
	remaining := 0
	for i, c := range candidates {
		if len(c) == 0 || len(c) != len(query) {
			continue
		}
		relevance[i] = cosine(query, c)
		available[i] = true
		remaining++
	}
	if k > remaining {
		k = remaining
	}
	l := float64(lambda)
	picked := make([]int, 0, k)
	// maxSim[i] is the highest similarity of candidate i to any picked one.
	maxSim := make([]float64, len(candidates))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}
	for len(picked) < k {
		best := -1
		bestScore := math.Inf(-1)
		bestRedundancy := math.Inf(1)
		for i := range candidates {
			if !available[i] {
				continue
			}
			redundancy := 0.0
			if len(picked) > 0 {
				redundancy = maxSim[i]
			}
			score := l*relevance[i] - (1-l)*redundancy
			if score > bestScore || (score == bestScore && redundancy < bestRedundancy) {
				best, bestScore, bestRedundancy = i, score, redundancy
			}
		}
		if best < 0 {
			break
		}
		picked = append(picked, best)
		available[best] = false
		for i := range candidates {
			if available[i] {
				if sim := cosine(candidates[best], candidates[i]); sim > maxSim[i] {
					maxSim[i] = sim
				}
			}
		}
	}
	return picked
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
