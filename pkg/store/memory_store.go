package store

import (
	"sort"
	"sync"
	"time"

	"github.com/inkth/jifou/pkg/domain"
)

// MemoryStore keeps users, records and reports in-process.
// Used by tests and single-instance development runs.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]domain.User
	phones  map[string]string // phone -> user ID
	records map[string][]domain.Record
	reports map[string]domain.DailyReport
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]domain.User),
		phones:  make(map[string]string),
		records: make(map[string][]domain.Record),
		reports: make(map[string]domain.DailyReport),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.phones[u.PhoneNumber]; ok && owner != u.ID {
		return ErrUserPhoneExists
	}
	if prev, ok := m.users[u.ID]; ok && prev.PhoneNumber != u.PhoneNumber {
		delete(m.phones, prev.PhoneNumber)
	}
	m.users[u.ID] = u
	m.phones[u.PhoneNumber] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByPhone(phone string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.phones[phone]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) SaveRecord(r domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Categories = append([]domain.Category(nil), r.Categories...)
	m.records[r.UserID] = append(m.records[r.UserID], r)
	return nil
}

// ListRecentRecords returns up to limit records, newest first.
func (m *MemoryStore) ListRecentRecords(userID string, limit int) ([]domain.Record, error) {
	m.mu.RLock()
	all := append([]domain.Record(nil), m.records[userID]...)
	m.mu.RUnlock()
	if limit <= 0 {
		return []domain.Record{}, nil
	}
	// Stable sort keeps later inserts ahead of earlier ones on equal timestamps.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) ListRecordsBetween(userID string, start, end time.Time) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Record, 0)
	for _, r := range m.records[userID] {
		if !r.CreatedAt.Before(start) && r.CreatedAt.Before(end) {
			res = append(res, r)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) GetDailyReport(userID, date string) (domain.DailyReport, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[reportKey(userID, date)]
	return r, ok, nil
}

func (m *MemoryStore) CreateDailyReport(report domain.DailyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reportKey(report.UserID, report.Date)
	if _, exists := m.reports[key]; exists {
		return ErrDailyReportExists
	}
	m.reports[key] = report
	return nil
}

func (m *MemoryStore) ListDailyReports(userID, fromDate, toDate string) ([]domain.DailyReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.DailyReport, 0)
	for _, r := range m.reports {
		if r.UserID == userID && r.Date >= fromDate && r.Date <= toDate {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date < res[j].Date })
	return res, nil
}

func reportKey(userID, date string) string {
	return userID + "|" + date
}
