package textutil

import "math"

// Cosine returns the cosine similarity of two vectors. Mismatched lengths or
// a zero vector yield 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// WeightedMean averages values by weights. It returns 0 when the weights
// sum to zero.
func WeightedMean(values, weights []float64) float64 {
	var sum, total float64
	for i := range values {
		if i >= len(weights) {
			break
		}
		sum += values[i] * weights[i]
		total += weights[i]
	}
	if total == 0 {
		return 0
	}
	return sum / total
}
