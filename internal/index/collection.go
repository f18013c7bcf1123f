package index

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collection is a single tenant's private vector namespace. Dimension and
// metric are fixed at creation; every stored or queried vector must match
// the dimension exactly.
type Collection struct {
	name      string
	dimension int
	metric    Metric

	mu sync.RWMutex
	// points values are never mutated once installed; an overwrite installs
	// a fresh *Point. Query relies on this to read candidates after
	// releasing the lock.
	points  map[string]*Point
	nextSeq uint64
}

func newCollection(name string, dimension int, metric Metric) *Collection {
	return &Collection{
		name:      name,
		dimension: dimension,
		metric:    metric,
		points:    make(map[string]*Point),
	}
}

// Name returns the derived collection name (e.g. "faces_acme").
func (c *Collection) Name() string { return c.name }

// Dimension returns the fixed vector dimensionality.
func (c *Collection) Dimension() int { return c.dimension }

// Metric returns the scoring metric.
func (c *Collection) Metric() Metric { return c.metric }

// Len returns the number of indexed points.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.points)
}

// Upsert inserts or replaces a point by ID. Replacing an existing point
// keeps its insertion sequence and creation time so that an idempotent
// retry overwrites instead of duplicating. Returns the stored point.
func (c *Collection) Upsert(id string, vector []float32, payload map[string]string) (Point, error) {
	if len(vector) != c.dimension {
		return Point{}, fmt.Errorf("%w: collection %s expects %d, got %d",
			ErrDimensionMismatch, c.name, c.dimension, len(vector))
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	p := &Point{
		ID:      id,
		Vector:  vec,
		Payload: payload,
	}
	if existing, ok := c.points[id]; ok {
		p.Seq = existing.Seq
		p.CreatedAt = existing.CreatedAt
	} else {
		p.Seq = c.nextSeq
		p.CreatedAt = time.Now()
		c.nextSeq++
	}
	c.points[id] = p
	return *p, nil
}

// Delete removes a point by ID. Returns ErrNotFound if absent; callers
// that want idempotent deletes check for it with errors.Is.
func (c *Collection) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.points[id]; !ok {
		return fmt.Errorf("%w: %s in collection %s", ErrNotFound, id, c.name)
	}
	delete(c.points, id)
	return nil
}

// Has reports whether a point with the given ID is indexed.
func (c *Collection) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.points[id]
	return ok
}

// Points returns a snapshot of all indexed points. The sweeper uses this
// to compute the symmetric difference against the ledger.
func (c *Collection) Points() []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Point, 0, len(c.points))
	for _, p := range c.points {
		out = append(out, *p)
	}
	return out
}

// Query returns the top-k points by score, best first. k is clamped to the
// collection size; ties break by insertion order (earlier point first) so
// identical vectors rank deterministically. The scan is exact, so every
// duplicate of the query vector appears when k is large enough.
func (c *Collection) Query(vector []float32, k int) ([]SearchResult, error) {
	if len(vector) != c.dimension {
		return nil, fmt.Errorf("%w: query against collection %s expects %d, got %d",
			ErrDimensionMismatch, c.name, c.dimension, len(vector))
	}
	if k <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	type scored struct {
		point *Point
		score float32
	}
	candidates := make([]scored, 0, len(c.points))
	for _, p := range c.points {
		candidates = append(candidates, scored{point: p, score: score(c.metric, vector, p.Vector)})
	}
	c.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].point.Seq < candidates[j].point.Seq
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]SearchResult, k)
	for i := 0; i < k; i++ {
		results[i] = SearchResult{
			ID:      candidates[i].point.ID,
			Score:   candidates[i].score,
			Payload: candidates[i].point.Payload,
		}
	}
	return results, nil
}

// restore re-inserts a persisted point with its original sequence and
// creation time. Only used while loading a snapshot; not safe to mix with
// concurrent Upserts for the same collection.
func (c *Collection) restore(p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := p
	c.points[p.ID] = &cp
	if p.Seq >= c.nextSeq {
		c.nextSeq = p.Seq + 1
	}
}

// score computes a similarity where higher is always better. Euclidean
// distance is negated so a self-match scores 0, its maximum.
func score(m Metric, a, b []float32) float32 {
	switch m {
	case MetricEuclidean:
		return -float32(math.Sqrt(float64(squaredL2(a, b))))
	case MetricDot:
		return dotProduct(a, b)
	default:
		return cosineSimilarity(a, b)
	}
}

func dotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func norm(v []float32) float32 {
	return float32(math.Sqrt(float64(dotProduct(v, v))))
}

// cosineSimilarity returns 1 for identical directions, 0 for perpendicular,
// -1 for opposite. Zero-norm vectors score 0 against everything.
func cosineSimilarity(a, b []float32) float32 {
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dotProduct(a, b) / (na * nb)
}
