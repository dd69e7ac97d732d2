package retrieval

import (
	"fmt"
	"math"
	"strings"
)

// Metric scores a query vector against a chunk vector. Higher is closer.
type Metric string

const (
	Cosine    Metric = "cosine"
	Dot       Metric = "dot"
	Euclidean Metric = "euclidean"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case Cosine, Dot, Euclidean:
		return m, nil
	case "":
		return Cosine, nil
	default:
		return "", fmt.Errorf("unknown similarity %q (expected cosine, dot or euclidean)", s)
	}
}

// Score compares two vectors of equal length
func (m Metric) Score(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: query has %d, chunk has %d", len(a), len(b))
	}

	switch m {
	case Dot:
		return dot(a, b), nil
	case Euclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		// map distance onto (0, 1] so that higher stays better
		return 1 / (1 + math.Sqrt(sum)), nil
	default:
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 0, nil
		}
		return dot(a, b) / (na * nb), nil
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

// normalize returns v scaled to unit length; the zero vector is returned as is
func normalize(v []float32) []float32 {
	n := norm(v)
	if n == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}
