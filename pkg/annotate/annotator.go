// Package annotate derives emotion scores and categories for journal records
// and aggregates a day of records into report content.
package annotate

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/inkth/jifou/pkg/ai"
	"github.com/inkth/jifou/pkg/domain"
)

// ErrNoRecords is returned by Aggregate for an empty day.
var ErrNoRecords = errors.New("no records to aggregate")

// DefaultTimeout bounds one call to the text-generation endpoint.
const DefaultTimeout = 5 * time.Second

// Annotator scores single records and aggregates a day of records.
type Annotator interface {
	Annotate(ctx context.Context, text string) (domain.Annotation, error)
	Aggregate(ctx context.Context, records []domain.Record) (domain.ReportContent, error)
}

// Config selects the annotator composition.
type Config struct {
	// Generator enables delegated annotation; nil means heuristic only.
	Generator ai.TextGenerator
	Timeout   time.Duration
	// Seed makes the heuristic reproducible when non-zero.
	Seed int64
}

// New returns the heuristic annotator, or the delegated annotator guarded by a
// heuristic fallback when a generator is configured.
func New(cfg Config) Annotator {
	heuristic := NewHeuristic(cfg.Seed)
	if cfg.Generator == nil {
		return heuristic
	}
	return WithFallback(NewDelegated(cfg.Generator), heuristic, cfg.Timeout)
}

// LifeIndex is round(mean(emotion_score) * 100).
func LifeIndex(records []domain.Record) int {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.EmotionScore
	}
	return clampScore(int(math.Round(sum / float64(len(records)) * 100)))
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampScore(v int) int {
	return min(max(v, 0), 100)
}
