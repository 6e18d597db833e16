package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inkth/jifou/internal/util"
	"github.com/inkth/jifou/pkg/domain"
	"github.com/inkth/jifou/pkg/store"
)

const weekDays = 7

// DailyReport returns the caller's report for date, generating and storing it
// on first request when the day has records.
func (a *App) DailyReport(ctx context.Context, user domain.User, date string) (domain.DailyReport, error) {
	day, err := a.parseDate(date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	date = day.Format(domain.DateLayout)

	report, ok, err := a.store.GetDailyReport(user.ID, date)
	if err != nil {
		return domain.DailyReport{}, fmt.Errorf("fetch report: %w", err)
	}
	if ok {
		return report, nil
	}

	records, err := a.store.ListRecordsBetween(user.ID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return domain.DailyReport{}, fmt.Errorf("fetch records: %w", err)
	}
	if len(records) == 0 {
		return domain.DailyReport{}, ErrReportNotFound
	}

	// Generation outlives the request once started.
	genCtx := context.WithoutCancel(ctx)
	logger := util.LoggerFromContext(ctx)
	start := time.Now()
	content, err := a.annotator.Aggregate(genCtx, records)
	if err != nil {
		return domain.DailyReport{}, fmt.Errorf("aggregate report: %w", err)
	}
	report = domain.DailyReport{
		ID:            util.NewID(),
		UserID:        user.ID,
		Date:          date,
		ReportContent: content,
		CreatedAt:     a.now().UTC(),
	}
	createErr := a.store.CreateDailyReport(report)
	if createErr != nil && !errors.Is(createErr, store.ErrDailyReportExists) {
		return domain.DailyReport{}, fmt.Errorf("save report: %w", createErr)
	}
	// Answer with the stored row so every read serializes identically, and so
	// the loser of a concurrent insert returns the winner's report.
	stored, ok, err := a.store.GetDailyReport(user.ID, date)
	if err != nil {
		return domain.DailyReport{}, fmt.Errorf("fetch stored report: %w", err)
	}
	if !ok {
		return domain.DailyReport{}, fmt.Errorf("report %s missing after insert", date)
	}
	if createErr != nil {
		logger.Info("daily report generated concurrently", "user_id", user.ID, "date", date)
		return stored, nil
	}
	logger.Info("daily report generated",
		"user_id", user.ID,
		"date", date,
		"records", len(records),
		"life_index", stored.LifeIndex,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stored, nil
}

// WeeklyReport summarises the stored daily reports of the seven days starting
// at startDate. Missing days count as zero; nothing is generated.
func (a *App) WeeklyReport(user domain.User, startDate string) (domain.WeeklyReport, error) {
	start, err := a.parseDate(startDate)
	if err != nil {
		return domain.WeeklyReport{}, err
	}
	end := start.AddDate(0, 0, weekDays-1)
	from, to := start.Format(domain.DateLayout), end.Format(domain.DateLayout)

	reports, err := a.store.ListDailyReports(user.ID, from, to)
	if err != nil {
		return domain.WeeklyReport{}, fmt.Errorf("list reports: %w", err)
	}
	byDate := make(map[string]int, len(reports))
	for _, r := range reports {
		byDate[r.Date] = r.LifeIndex
	}

	trends := make([]int, weekDays)
	days, sum := 0, 0
	for i := range trends {
		key := start.AddDate(0, 0, i).Format(domain.DateLayout)
		if v, ok := byDate[key]; ok {
			trends[i] = v
			days++
			sum += v
		}
	}
	summary := "本周还没有生成日报，记录生活后查看每日报告即可解锁周报趋势。"
	if days > 0 {
		summary = fmt.Sprintf("本周共有 %d 天生成了日报，平均人生指数为 %d。", days, (sum+days/2)/days)
	}
	return domain.WeeklyReport{
		StartDate: from,
		EndDate:   to,
		Summary:   summary,
		Trends:    trends,
		IsLocked:  true,
	}, nil
}

// parseDate reads an ISO date as the start of that day in the configured zone.
func (a *App) parseDate(raw string) (time.Time, error) {
	day, err := time.ParseInLocation(domain.DateLayout, raw, a.loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return day, nil
}
