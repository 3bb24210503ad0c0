// Package telemetry records per-query metrics for answer quality and
// latency tracking. All data stays local.
package telemetry

import (
	"sync"
	"time"
)

// LatencyBucket is one histogram bucket. Query latency is dominated by
// the LLM, so the buckets run from cache-hit fast to provider slow.
type LatencyBucket string

const (
	BucketP100   LatencyBucket = "p100"   // <100ms, cache hits
	BucketP1000  LatencyBucket = "p1000"  // 100ms-1s
	BucketP5000  LatencyBucket = "p5000"  // 1-5s
	BucketP15000 LatencyBucket = "p15000" // 5-15s
	BucketSlow   LatencyBucket = "slow"   // >=15s
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 100:
		return BucketP100
	case ms < 1000:
		return BucketP1000
	case ms < 5000:
		return BucketP5000
	case ms < 15000:
		return BucketP15000
	default:
		return BucketSlow
	}
}

// QueryEvent is one answered query.
type QueryEvent struct {
	Time       time.Time `json:"time"`
	KBID       string    `json:"kb_id"`
	Question   string    `json:"question"`
	Category   string    `json:"category,omitempty"`
	CacheHit   string    `json:"cache_hit,omitempty"` // "exact", "semantic", or empty
	Confidence float64   `json:"confidence"`
	Level      string    `json:"level,omitempty"`
	Iterations int       `json:"iterations"`
	Sources    int       `json:"sources"`
	DurationMs int64     `json:"duration_ms"`
	Error      bool      `json:"error,omitempty"`
}

// IsZeroSource reports whether the answer had nothing to ground on.
func (e QueryEvent) IsZeroSource() bool {
	return e.Sources == 0
}

// Sink persists events as they are recorded.
type Sink interface {
	Append(event QueryEvent) error
	Close() error
}

// Snapshot is an immutable view of the rolling stats.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	ErrorCount          int64                   `json:"error_count"`
	CacheHits           map[string]int64        `json:"cache_hits"`
	Levels              map[string]int64        `json:"levels"`
	Categories          map[string]int64        `json:"categories"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	AvgConfidence       float64                 `json:"avg_confidence"`
	ZeroSourceCount     int64                   `json:"zero_source_count"`
	ZeroSourceQuestions []string                `json:"zero_source_questions"`
	Since               time.Time               `json:"since"`
}

// CacheHitRate returns the fraction of queries served from cache.
func (s *Snapshot) CacheHitRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	hits := s.CacheHits["exact"] + s.CacheHits["semantic"]
	return float64(hits) / float64(s.TotalQueries)
}

// ErrorRate returns the fraction of queries that failed.
func (s *Snapshot) ErrorRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.TotalQueries)
}

// zeroSourceCapacity bounds the zero-source question buffer.
const zeroSourceCapacity = 100

// Recorder aggregates query events in memory and streams them to an
// optional sink. Safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	total         int64
	errors        int64
	cacheHits     map[string]int64
	levels        map[string]int64
	categories    map[string]int64
	latencies     map[LatencyBucket]int64
	confidenceSum float64
	confidenceN   int64
	zeroSource    *CircularBuffer[string]
	zeroCount     int64
	startTime     time.Time

	sink   Sink
	closed bool
}

// NewRecorder creates a recorder. A nil sink keeps stats in memory only.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{
		cacheHits:  make(map[string]int64),
		levels:     make(map[string]int64),
		categories: make(map[string]int64),
		latencies:  make(map[LatencyBucket]int64),
		zeroSource: NewCircularBuffer[string](zeroSourceCapacity),
		startTime:  time.Now(),
		sink:       sink,
	}
}

// Record captures one query event.
func (r *Recorder) Record(event QueryEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	r.total++
	if event.Error {
		r.errors++
	}
	if event.CacheHit != "" {
		r.cacheHits[event.CacheHit]++
	}
	if event.Level != "" {
		r.levels[event.Level]++
	}
	if event.Category != "" {
		r.categories[event.Category]++
	}
	r.latencies[LatencyToBucket(time.Duration(event.DurationMs)*time.Millisecond)]++

	if !event.Error {
		r.confidenceSum += event.Confidence
		r.confidenceN++
	}
	if event.IsZeroSource() && !event.Error && event.CacheHit == "" {
		r.zeroSource.Add(event.Question)
		r.zeroCount++
	}
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		// Outside the lock: the sink may touch disk.
		_ = sink.Append(event)
	}
}

// Snapshot returns the current rolling stats.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		TotalQueries:        r.total,
		ErrorCount:          r.errors,
		CacheHits:           make(map[string]int64, len(r.cacheHits)),
		Levels:              make(map[string]int64, len(r.levels)),
		Categories:          make(map[string]int64, len(r.categories)),
		LatencyDistribution: make(map[LatencyBucket]int64, len(r.latencies)),
		ZeroSourceCount:     r.zeroCount,
		ZeroSourceQuestions: r.zeroSource.Items(),
		Since:               r.startTime,
	}
	for k, v := range r.cacheHits {
		snap.CacheHits[k] = v
	}
	for k, v := range r.levels {
		snap.Levels[k] = v
	}
	for k, v := range r.categories {
		snap.Categories[k] = v
	}
	for k, v := range r.latencies {
		snap.LatencyDistribution[k] = v
	}
	if r.confidenceN > 0 {
		snap.AvgConfidence = r.confidenceSum / float64(r.confidenceN)
	}
	return snap
}

// Close stops recording and closes the sink.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		return sink.Close()
	}
	return nil
}
