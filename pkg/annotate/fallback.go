package annotate

import (
	"context"
	"time"

	"github.com/inkth/jifou/internal/util"
	"github.com/inkth/jifou/pkg/domain"
)

type fallbackAnnotator struct {
	primary  Annotator
	fallback Annotator
	timeout  time.Duration
}

// WithFallback runs primary under timeout and answers from fallback when it
// fails. Failures are logged, never returned.
func WithFallback(primary, fallback Annotator, timeout time.Duration) Annotator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &fallbackAnnotator{primary: primary, fallback: fallback, timeout: timeout}
}

func (f *fallbackAnnotator) Annotate(ctx context.Context, text string) (domain.Annotation, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	ann, err := f.primary.Annotate(callCtx, text)
	if err == nil {
		return ann, nil
	}
	util.LoggerFromContext(ctx).Warn("annotation fallback", "op", "annotate", "err", err)
	return f.fallback.Annotate(ctx, text)
}

func (f *fallbackAnnotator) Aggregate(ctx context.Context, records []domain.Record) (domain.ReportContent, error) {
	if len(records) == 0 {
		return domain.ReportContent{}, ErrNoRecords
	}
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	content, err := f.primary.Aggregate(callCtx, records)
	if err == nil {
		return content, nil
	}
	util.LoggerFromContext(ctx).Warn("annotation fallback", "op", "aggregate", "records", len(records), "err", err)
	return f.fallback.Aggregate(ctx, records)
}
