package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkth/jifou/internal/ratelimit"
	"github.com/inkth/jifou/internal/util"
	"github.com/inkth/jifou/pkg/auth"
	"github.com/inkth/jifou/pkg/domain"
	"github.com/inkth/jifou/services/journal/internal/app"
	"github.com/inkth/jifou/services/journal/internal/security"
)

const (
	apiVersion            = "1.0.0"
	reportNotFoundMessage = "该日期没有记录，无法生成报告"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Redis enables per-IP rate limiting of the OTP endpoints; nil disables it.
	Redis                     *redis.Client
	SendOTPRateLimitPerMinute int
	LoginRateLimitPerMinute   int
	TrustedProxies            *util.TrustedProxies
	CORSAllowedOrigins        []string
	// OTPDebugEcho returns the issued code in the send-otp response.
	OTPDebugEcho bool
	Alerter      *security.AuditAlerter
}

// Server exposes HTTP endpoints for the journal service.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	trusted        *util.TrustedProxies
	corsOrigins    []string
	otpDebugEcho   bool
	alerter        *security.AuditAlerter
	sendOTPLimiter *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	s := &Server{
		app:          cfg.App,
		mux:          http.NewServeMux(),
		trusted:      cfg.TrustedProxies,
		corsOrigins:  cfg.CORSAllowedOrigins,
		otpDebugEcho: cfg.OTPDebugEcho,
		alerter:      cfg.Alerter,
	}
	if len(s.corsOrigins) == 0 {
		s.corsOrigins = []string{"*"}
	}
	if cfg.Redis != nil {
		sendLimit := cfg.SendOTPRateLimitPerMinute
		if sendLimit <= 0 {
			sendLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "jifou:ratelimit:"+name, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.sendOTPLimiter, err = newLimiter("send-otp", sendLimit); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("journal",
			util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/send-otp", s.handleSendOTP)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))

	// journal
	s.mux.Handle("/records", s.authenticated(s.handleRecords))
	s.mux.Handle("/reports/daily/", s.authenticated(s.handleDailyReport))
	s.mux.Handle("/reports/weekly/", s.authenticated(s.handleWeeklyReport))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to Jifou AI API",
		"status":  "online",
		"version": apiVersion,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeUnauthorized(w)
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "auth.authorize", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	user, ok := s.app.UserFromToken(token)
	if !ok {
		s.audit(r, "auth.authorize", "fail", "reason", "invalid_token")
		return domain.User{}, false
	}
	return user, true
}

// auth handlers
func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.sendOTPLimiter, "too many verification code requests") {
		s.audit(r, "auth.otp.send", "rate_limited")
		return
	}
	var req sendOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.otp.send", "fail", "reason", "invalid_json")
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	challenge, err := s.app.SendOTP(r.Context(), req.PhoneNumber)
	if err != nil {
		s.audit(r, "auth.otp.send", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.otp.send", "success", "phone", auth.MaskPhone(challenge.Phone))
	// There is no SMS gateway; the log line is the delivery channel.
	util.LoggerFromContext(r.Context()).Info("otp issued",
		"phone", auth.MaskPhone(challenge.Phone),
		"code", challenge.Code,
		"expires_in", challenge.ExpiresIn,
	)
	resp := sendOTPResponse{
		ExpiresIn:   challenge.ExpiresIn,
		ResendAfter: challenge.ResendAfter,
	}
	if s.otpDebugEcho {
		resp.Code = challenge.Code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		s.audit(r, "auth.login", "fail", "reason", "missing_code")
		writeError(w, http.StatusUnprocessableEntity, "code is required")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.PhoneNumber, req.Code, req.FullName)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "auth.logout", "fail", "reason", "missing_token")
		writeUnauthorized(w)
		return
	}
	if err := s.app.Logout(token); err != nil {
		s.audit(r, "auth.logout", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateMeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
			return
		}
		if req.FullName == nil {
			writeError(w, http.StatusUnprocessableEntity, "full_name is required")
			return
		}
		updated, err := s.app.UpdateProfile(user, *req.FullName)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

// journal handlers
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				s.writeAppError(w, r, app.ErrInvalidLimit)
				return
			}
			limit = n
		}
		records, err := s.app.ListRecords(user, limit)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	case http.MethodPost:
		var req createRecordRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
			return
		}
		if req.Content == nil {
			writeError(w, http.StatusUnprocessableEntity, "content is required")
			return
		}
		record, err := s.app.CreateRecord(r.Context(), user, *req.Content, domain.RecordType(strings.ToLower(strings.TrimSpace(req.RecordType))))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request, user domain.User) {
	date, ok := pathParam(r, "/reports/daily/")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	report, err := s.app.DailyReport(r.Context(), user, date)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleWeeklyReport(w http.ResponseWriter, r *http.Request, user domain.User) {
	start, ok := pathParam(r, "/reports/weekly/")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	report, err := s.app.WeeklyReport(user, start)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func pathParam(r *http.Request, prefix string) (string, bool) {
	value := strings.TrimPrefix(r.URL.Path, prefix)
	if value == "" || strings.Contains(value, "/") {
		return "", false
	}
	return value, true
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type sendOTPResponse struct {
	ExpiresIn   int    `json:"expires_in"`
	ResendAfter int    `json:"resend_after"`
	Code        string `json:"code,omitempty"`
}

type loginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
	FullName    string `json:"full_name"`
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        domain.User `json:"user"`
}

type updateMeRequest struct {
	FullName *string `json:"full_name"`
}

type createRecordRequest struct {
	Content    *string `json:"content"`
	RecordType string  `json:"record_type"`
}
