// Package index implements the in-process tenant-partitioned vector index:
// a registry of per-tenant collections, each holding fixed-dimension
// embedding vectors with exact nearest-neighbor search.
package index

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")
	ErrNotFound          = errors.New("index: point not found")
	ErrEmptyTenant       = errors.New("index: empty tenant id")
)

// Metric selects the scoring function for a collection. It is fixed at
// collection creation time and immutable afterwards.
type Metric int

const (
	MetricCosine Metric = iota
	MetricEuclidean
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	case MetricDot:
		return "dot"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMetric converts a metric name from configuration into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "", "cosine":
		return MetricCosine, nil
	case "euclidean":
		return MetricEuclidean, nil
	case "dot":
		return MetricDot, nil
	default:
		return 0, fmt.Errorf("index: unknown metric %q", s)
	}
}

// Point is one indexed vector plus its identifier and display payload.
// Seq is the insertion sequence inside the owning collection; it breaks
// score ties so that identical vectors rank in insertion order.
type Point struct {
	ID        string
	Vector    []float32
	Payload   map[string]string
	Seq       uint64
	CreatedAt time.Time
}

// SearchResult is a ranked nearest-neighbor match. Higher score is better
// for every metric (Euclidean distances are negated).
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]string
}
