package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkth/jifou/pkg/annotate"
	"github.com/inkth/jifou/pkg/domain"
	"github.com/inkth/jifou/pkg/store"
)

// scriptedAnnotator scores records from a fixed table and counts aggregations.
type scriptedAnnotator struct {
	scores     map[string]float64
	aggregates atomic.Int32
}

func (s *scriptedAnnotator) Annotate(_ context.Context, text string) (domain.Annotation, error) {
	return domain.Annotation{EmotionScore: s.scores[text], Categories: []domain.Category{domain.CategoryHealth}}, nil
}

func (s *scriptedAnnotator) Aggregate(_ context.Context, records []domain.Record) (domain.ReportContent, error) {
	s.aggregates.Add(1)
	time.Sleep(5 * time.Millisecond)
	return domain.ReportContent{LifeIndex: annotate.LifeIndex(records), Summary: "ok"}, nil
}

func newTestApp(t *testing.T, ann annotate.Annotator, now time.Time) (*App, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	a, err := New(Config{
		Store:     s,
		JWTSecret: "test-secret",
		Annotator: ann,
		Location:  time.UTC,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, s
}

func loginTestUser(t *testing.T, a *App, phone string) (domain.User, string) {
	t.Helper()
	ctx := context.Background()
	challenge, err := a.SendOTP(ctx, phone)
	if err != nil {
		t.Fatalf("send otp: %v", err)
	}
	user, token, err := a.Login(ctx, phone, challenge.Code, "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return user, token
}

func TestLoginRegistersOnceAndLogoutRevokes(t *testing.T) {
	a, _ := newTestApp(t, nil, time.Now())
	first, token := loginTestUser(t, a, "+86 138-0013-8000")
	if first.PhoneNumber != "+8613800138000" {
		t.Fatalf("expected normalized phone, got %q", first.PhoneNumber)
	}
	second, _ := loginTestUser(t, a, "+8613800138000")
	if second.ID != first.ID {
		t.Fatalf("expected same user on second login, got %s and %s", first.ID, second.ID)
	}

	got, ok := a.UserFromToken(token)
	if !ok || got.ID != first.ID {
		t.Fatalf("expected token to resolve owner, ok=%v user=%+v", ok, got)
	}
	if err := a.Logout(token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := a.UserFromToken(token); ok {
		t.Fatalf("expected revoked token to be rejected")
	}
	if _, ok := a.UserFromToken("garbage"); ok {
		t.Fatalf("expected garbage token to be rejected")
	}
}

func TestLoginRejectsWrongCodeAndBadPhone(t *testing.T) {
	a, _ := newTestApp(t, nil, time.Now())
	ctx := context.Background()
	if _, err := a.SendOTP(ctx, "12ab"); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected invalid phone, got %v", err)
	}
	challenge, err := a.SendOTP(ctx, "13800138000")
	if err != nil {
		t.Fatalf("send otp: %v", err)
	}
	wrong := "000000"
	if challenge.Code == wrong {
		wrong = "111111"
	}
	if _, _, err := a.Login(ctx, "13800138000", wrong, ""); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected invalid otp, got %v", err)
	}
}

func TestUserFromTokenRejectsInactiveOwner(t *testing.T) {
	a, s := newTestApp(t, nil, time.Now())
	user, token := loginTestUser(t, a, "13800138000")
	user.IsActive = false
	if err := s.SaveUser(user); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, ok := a.UserFromToken(token); ok {
		t.Fatalf("expected inactive owner to be rejected")
	}
}

func TestUpdateProfile(t *testing.T) {
	a, _ := newTestApp(t, nil, time.Now())
	user, token := loginTestUser(t, a, "13800138000")
	if _, err := a.UpdateProfile(user, strings.Repeat("x", maxFullNameRunes+1)); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected invalid profile, got %v", err)
	}
	if _, err := a.UpdateProfile(user, "  Ada  "); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	got, ok := a.UserFromToken(token)
	if !ok || got.FullName != "Ada" {
		t.Fatalf("expected updated name, ok=%v user=%+v", ok, got)
	}
}

func TestCreateRecordValidatesAndDefaults(t *testing.T) {
	a, _ := newTestApp(t, annotate.NewHeuristic(1), time.Now())
	user := domain.User{ID: "u1"}
	ctx := context.Background()

	rec, err := a.CreateRecord(ctx, user, "", "")
	if err != nil {
		t.Fatalf("create empty record: %v", err)
	}
	if rec.RecordType != domain.RecordText {
		t.Fatalf("expected default text type, got %q", rec.RecordType)
	}
	if len(rec.Categories) != 1 || rec.Categories[0] != domain.CategoryHappiness {
		t.Fatalf("expected happiness for empty text, got %v", rec.Categories)
	}
	if rec.EmotionScore < 0 || rec.EmotionScore > 1 {
		t.Fatalf("score out of range: %v", rec.EmotionScore)
	}
	if _, err := a.CreateRecord(ctx, user, "hi", "video"); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected invalid record type, got %v", err)
	}
	if _, err := a.CreateRecord(ctx, user, strings.Repeat("好", maxContentRunes+1), domain.RecordText); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected oversize content to fail, got %v", err)
	}
}

func TestListRecordsNewestFirstWithDefaultLimit(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	s := store.NewMemoryStore()
	a, err := New(Config{
		Store:          s,
		JWTSecret:      "test-secret",
		Annotator:      annotate.NewHeuristic(1),
		Location:       time.UTC,
		MaxRecordLimit: 12,
		Now: func() time.Time {
			now = now.Add(time.Minute)
			return now
		},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	user := domain.User{ID: "u1"}
	for i := 0; i < 15; i++ {
		if _, err := a.CreateRecord(context.Background(), user, string(rune('a'+i)), domain.RecordText); err != nil {
			t.Fatalf("create record %d: %v", i, err)
		}
	}
	list, err := a.ListRecords(user, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != defaultRecordLimit || list[0].Content != "o" || list[1].Content != "n" {
		t.Fatalf("unexpected default page: len=%d first=%q", len(list), list[0].Content)
	}
	list, err = a.ListRecords(user, 50)
	if err != nil {
		t.Fatalf("list capped: %v", err)
	}
	if len(list) != 12 {
		t.Fatalf("expected limit capped to 12, got %d", len(list))
	}
}

func TestDailyReportLifeIndexAndCaching(t *testing.T) {
	ann := &scriptedAnnotator{scores: map[string]float64{"run": 0.8, "read": 0.6}}
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	a, _ := newTestApp(t, ann, now)
	user := domain.User{ID: "u1"}
	ctx := context.Background()

	if _, err := a.DailyReport(ctx, user, "2024-01-01"); !errors.Is(err, ErrReportNotFound) {
		t.Fatalf("expected not found before records, got %v", err)
	}
	for _, content := range []string{"run", "read"} {
		if _, err := a.CreateRecord(ctx, user, content, domain.RecordText); err != nil {
			t.Fatalf("create record: %v", err)
		}
	}
	first, err := a.DailyReport(ctx, user, "2024-01-01")
	if err != nil {
		t.Fatalf("daily report: %v", err)
	}
	if first.LifeIndex != 70 {
		t.Fatalf("expected life index 70, got %d", first.LifeIndex)
	}
	second, err := a.DailyReport(ctx, user, "2024-01-01")
	if err != nil {
		t.Fatalf("second daily report: %v", err)
	}
	if second.ID != first.ID || ann.aggregates.Load() != 1 {
		t.Fatalf("expected cached report, ids %s/%s aggregates=%d", first.ID, second.ID, ann.aggregates.Load())
	}
	if _, err := a.DailyReport(ctx, user, "2024-01-02"); !errors.Is(err, ErrReportNotFound) {
		t.Fatalf("expected not found for empty day, got %v", err)
	}
	if _, err := a.DailyReport(ctx, user, "01/02/2024"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected invalid date, got %v", err)
	}
}

func TestDailyReportConcurrentRequestsShareOneRow(t *testing.T) {
	ann := &scriptedAnnotator{scores: map[string]float64{"x": 0.5}}
	a, s := newTestApp(t, ann, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	user := domain.User{ID: "u1"}
	if _, err := a.CreateRecord(context.Background(), user, "x", domain.RecordText); err != nil {
		t.Fatalf("create record: %v", err)
	}

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := a.DailyReport(context.Background(), user, "2024-01-01")
			ids[i], errs[i] = report.ID, err
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("request %d returned %s, want %s", i, ids[i], ids[0])
		}
	}
	stored, err := s.ListDailyReports("u1", "2024-01-01", "2024-01-01")
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected exactly one stored report, got %d err=%v", len(stored), err)
	}
}

func TestWeeklyReportIsReadOnly(t *testing.T) {
	a, s := newTestApp(t, nil, time.Now())
	user := domain.User{ID: "u1"}
	for date, idx := range map[string]int{"2024-01-01": 70, "2024-01-03": 81} {
		if err := s.CreateDailyReport(domain.DailyReport{
			ID: date, UserID: "u1", Date: date, ReportContent: domain.ReportContent{LifeIndex: idx},
		}); err != nil {
			t.Fatalf("seed report: %v", err)
		}
	}
	week, err := a.WeeklyReport(user, "2024-01-01")
	if err != nil {
		t.Fatalf("weekly report: %v", err)
	}
	want := []int{70, 0, 81, 0, 0, 0, 0}
	for i := range want {
		if week.Trends[i] != want[i] {
			t.Fatalf("unexpected trends %v", week.Trends)
		}
	}
	if week.EndDate != "2024-01-07" || !week.IsLocked {
		t.Fatalf("unexpected weekly report: %+v", week)
	}
	if !strings.Contains(week.Summary, "76") {
		t.Fatalf("expected average in summary, got %q", week.Summary)
	}
}
