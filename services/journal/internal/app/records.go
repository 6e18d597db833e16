package app

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/inkth/jifou/internal/util"
	"github.com/inkth/jifou/pkg/domain"
)

// CreateRecord annotates content and persists it as a new record owned by user.
// An empty record type means text.
func (a *App) CreateRecord(ctx context.Context, user domain.User, content string, recordType domain.RecordType) (domain.Record, error) {
	if recordType == "" {
		recordType = domain.RecordText
	}
	if !recordType.Valid() {
		return domain.Record{}, fmt.Errorf("%w: record_type must be text or voice", ErrInvalidRecord)
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return domain.Record{}, fmt.Errorf("%w: content exceeds %d characters", ErrInvalidRecord, maxContentRunes)
	}

	ann, err := a.annotator.Annotate(ctx, strings.TrimSpace(content))
	if err != nil {
		return domain.Record{}, fmt.Errorf("annotate record: %w", err)
	}
	rec := domain.Record{
		ID:           util.NewID(),
		UserID:       user.ID,
		Content:      content,
		RecordType:   recordType,
		EmotionScore: ann.EmotionScore,
		Categories:   ann.Categories,
		CreatedAt:    a.now().UTC(),
	}
	if len(rec.Categories) == 0 {
		rec.Categories = []domain.Category{domain.CategoryHappiness}
	}
	if err := a.store.SaveRecord(rec); err != nil {
		return domain.Record{}, fmt.Errorf("save record: %w", err)
	}
	util.LoggerFromContext(ctx).Info("record created",
		"user_id", user.ID,
		"record_id", rec.ID,
		"record_type", rec.RecordType,
		"emotion_score", rec.EmotionScore,
	)
	return rec, nil
}

// ListRecords returns the caller's newest records. limit <= 0 means the
// default page; larger limits are capped.
func (a *App) ListRecords(user domain.User, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = defaultRecordLimit
	}
	limit = min(limit, a.maxLimit)
	records, err := a.store.ListRecentRecords(user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}
