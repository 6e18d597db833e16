package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/inkth/jifou/pkg/annotate"
	"github.com/inkth/jifou/pkg/domain"
	"github.com/inkth/jifou/pkg/store"
	"github.com/inkth/jifou/services/journal/internal/app"
	"github.com/inkth/jifou/services/journal/internal/security"
)

type testEnv struct {
	handler http.Handler
	store   store.Store
}

func newTestEnv(t *testing.T, cfg Config) testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	a, err := app.New(app.Config{
		Store:     s,
		JWTSecret: "test-secret",
		Annotator: annotate.NewHeuristic(7),
		Location:  time.UTC,
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = a
	cfg.OTPDebugEcho = true
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return testEnv{handler: srv.Router(), store: s}
}

func (e testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.9:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) login(t *testing.T, phone string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/send-otp", "", map[string]string{"phone_number": phone})
	if rec.Code != http.StatusOK {
		t.Fatalf("send otp expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var otp sendOTPResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &otp); err != nil || otp.Code == "" {
		t.Fatalf("decode otp response: %v body=%s", err, rec.Body.String())
	}
	rec = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"phone_number": phone, "code": otp.Code})
	if rec.Code != http.StatusOK {
		t.Fatalf("login expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if resp.TokenType != "bearer" || resp.AccessToken == "" {
		t.Fatalf("unexpected login response: %+v", resp)
	}
	return resp.AccessToken
}

func TestWelcomeAndHealth(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"status":"online"`)) {
		t.Fatalf("unexpected welcome: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"healthy"`)) {
		t.Fatalf("unexpected health: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	rec = env.do(t, http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path expected 404, got %d", rec.Code)
	}
}

func TestUnauthenticatedRequestsDoNotMutate(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, token := range []string{"", "not-a-jwt"} {
		rec := env.do(t, http.MethodPost, "/records", token, map[string]string{"content": "hello"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q expected 401, got %d", token, rec.Code)
		}
		var body errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Code != "AUTH_INVALID_TOKEN" || body.RequestID == "" {
			t.Fatalf("unexpected error envelope: %s", rec.Body.String())
		}
	}
	if rec := env.do(t, http.MethodGet, "/reports/daily/2024-01-01", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("report without token expected 401, got %d", rec.Code)
	}
	records, err := env.store.ListRecentRecords("anyone", 10)
	if err != nil || len(records) != 0 {
		t.Fatalf("expected no records, got %d err=%v", len(records), err)
	}
}

func TestRecordsCreateAndListNewestFirst(t *testing.T) {
	env := newTestEnv(t, Config{})
	token := env.login(t, "13800138000")

	for _, content := range []string{"went for a run", "got a bonus at work"} {
		rec := env.do(t, http.MethodPost, "/records", token, map[string]string{"content": content})
		if rec.Code != http.StatusOK {
			t.Fatalf("create expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var created domain.Record
		if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
			t.Fatalf("decode record: %v", err)
		}
		if created.RecordType != domain.RecordText || created.EmotionScore < 0 || created.EmotionScore > 1 || len(created.Categories) == 0 {
			t.Fatalf("unexpected record: %+v", created)
		}
	}

	rec := env.do(t, http.MethodGet, "/records?limit=5", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list expected 200, got %d", rec.Code)
	}
	var list []domain.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 || list[0].Content != "got a bonus at work" || list[1].Content != "went for a run" {
		t.Fatalf("unexpected order: %+v", list)
	}

	if rec := env.do(t, http.MethodGet, "/records?limit=abc", token, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad limit expected 422, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/records", token, map[string]string{"content": "x", "record_type": "video"}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad record type expected 422, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/records", token, map[string]string{"record_type": "text"}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing content expected 422, got %d", rec.Code)
	}
}

func TestDailyReportNotFoundThenCached(t *testing.T) {
	env := newTestEnv(t, Config{})
	token := env.login(t, "13800138000")

	rec := env.do(t, http.MethodGet, "/reports/daily/2024-01-01", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty day expected 404, got %d", rec.Code)
	}
	var notFound errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &notFound); err != nil || notFound.Code != "REPORT_NOT_FOUND" {
		t.Fatalf("unexpected not found body: %s", rec.Body.String())
	}
	var me domain.User
	if err := json.Unmarshal(env.do(t, http.MethodGet, "/auth/me", token, nil).Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if _, ok, err := env.store.GetDailyReport(me.ID, "2024-01-01"); err != nil || ok {
		t.Fatalf("expected no report row, ok=%v err=%v", ok, err)
	}

	if rec := env.do(t, http.MethodPost, "/records", token, map[string]string{"content": "slept well"}); rec.Code != http.StatusOK {
		t.Fatalf("create record: %d", rec.Code)
	}
	first := env.do(t, http.MethodGet, "/reports/daily/2024-01-01", token, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("report expected 200, got %d: %s", first.Code, first.Body.String())
	}
	second := env.do(t, http.MethodGet, "/reports/daily/2024-01-01", token, nil)
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("expected identical bodies:\n%s\n%s", first.Body.String(), second.Body.String())
	}

	if rec := env.do(t, http.MethodGet, "/reports/daily/2024-13-40", token, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid date expected 422, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/reports/weekly/2024-01-01", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("weekly expected 200, got %d", rec.Code)
	}
	var week domain.WeeklyReport
	if err := json.Unmarshal(rec.Body.Bytes(), &week); err != nil {
		t.Fatalf("decode weekly: %v", err)
	}
	if len(week.Trends) != 7 || week.Trends[0] == 0 || !week.IsLocked {
		t.Fatalf("unexpected weekly report: %+v", week)
	}
}

func TestMeAndLogout(t *testing.T) {
	env := newTestEnv(t, Config{})
	token := env.login(t, "13800138000")

	rec := env.do(t, http.MethodPatch, "/auth/me", token, map[string]string{"full_name": "Ada"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch me expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/auth/me", token, nil)
	var me domain.User
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil || me.FullName != "Ada" || me.PhoneNumber != "13800138000" {
		t.Fatalf("unexpected me: %s", rec.Body.String())
	}

	if rec := env.do(t, http.MethodPost, "/auth/logout", token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout expected 204, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/auth/me", token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token expected 401, got %d", rec.Code)
	}
}

func TestLoginRejectsWrongCode(t *testing.T) {
	env := newTestEnv(t, Config{})
	if rec := env.do(t, http.MethodPost, "/auth/send-otp", "", map[string]string{"phone_number": "13800138000"}); rec.Code != http.StatusOK {
		t.Fatalf("send otp: %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"phone_number": "13800138000", "code": "abc"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong code expected 401, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/auth/send-otp", "", map[string]string{"phone_number": "call me"}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad phone expected 422, got %d", rec.Code)
	}
}

func TestSendOTPRateLimitedPerIP(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	env := newTestEnv(t, Config{
		Redis:                     client,
		SendOTPRateLimitPerMinute: 2,
		Alerter:                   security.NewAuditAlerter(client, "test:alerts"),
	})

	phones := []string{"13800138001", "13800138002", "13800138003"}
	for i, phone := range phones {
		rec := env.do(t, http.MethodPost, "/auth/send-otp", "", map[string]string{"phone_number": phone})
		want := http.StatusOK
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Fatalf("request %d expected %d, got %d", i, want, rec.Code)
		}
		if want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Fatalf("expected Retry-After header")
		}
	}
}
