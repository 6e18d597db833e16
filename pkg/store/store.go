package store

import (
	"errors"
	"time"

	"github.com/inkth/jifou/pkg/domain"
)

var (
	// ErrDailyReportExists is returned when a report for the same owner and date
	// was persisted first. Callers should re-read instead of failing.
	ErrDailyReportExists = errors.New("daily report already exists")
	ErrUserPhoneExists   = errors.New("phone number already registered")
)

// Store defines persistence operations for users, records and reports.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByPhone(phone string) (domain.User, bool, error)

	// records
	SaveRecord(domain.Record) error
	ListRecentRecords(userID string, limit int) ([]domain.Record, error)
	// ListRecordsBetween returns records with start <= created_at < end, oldest first.
	ListRecordsBetween(userID string, start, end time.Time) ([]domain.Record, error)

	// reports
	GetDailyReport(userID, date string) (domain.DailyReport, bool, error)
	// CreateDailyReport inserts a report and returns ErrDailyReportExists when
	// (user, date) is already taken.
	CreateDailyReport(domain.DailyReport) error
	ListDailyReports(userID, fromDate, toDate string) ([]domain.DailyReport, error)
}

// SessionStore issues and resolves bearer tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
