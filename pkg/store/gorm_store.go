package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/inkth/jifou/pkg/domain"
)

const migrateLockID int64 = 51873119

// GormStore implements Store using GORM over Postgres or a local sqlite file.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
// postgres://, postgresql:// and key=value DSNs select Postgres; sqlite:// URLs,
// file: URIs and bare paths select sqlite.
func NewGormStore(dsn string) (*GormStore, error) {
	dialector, isPostgres, err := openDialector(dsn)
	if err != nil {
		return nil, err
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &RecordModel{}, &DailyReportModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if isPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDialector(dsn string) (gorm.Dialector, bool, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, false, errors.New("database URL required")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return postgres.Open(dsn), true, nil
	}
	path := dsn
	if rest, ok := strings.CutPrefix(dsn, "sqlite://"); ok {
		// sqlite:///./jifou.db is relative, sqlite:////var/lib/jifou.db absolute.
		path = strings.TrimPrefix(rest, "/")
	}
	if path == "" {
		return nil, false, fmt.Errorf("invalid sqlite database URL %q", dsn)
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, false, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}
	return sqlite.Open(path), false, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "is_active", "updated_at"}),
	}).Create(&model).Error
	if err != nil && s.phoneTaken(u) {
		return ErrUserPhoneExists
	}
	return err
}

func (s *GormStore) phoneTaken(u domain.User) bool {
	existing, ok, err := s.GetUserByPhone(u.PhoneNumber)
	return err == nil && ok && existing.ID != u.ID
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByPhone looks up a user by normalised phone number.
func (s *GormStore) GetUserByPhone(phone string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("phone_number = ?", phone).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveRecord inserts an annotated record. Records are immutable.
func (s *GormStore) SaveRecord(r domain.Record) error {
	model, err := recordToModel(r)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListRecentRecords returns the newest records of a user, newest first.
func (s *GormStore) ListRecentRecords(userID string, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		return []domain.Record{}, nil
	}
	var models []RecordModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return recordsFromModels(models), nil
}

// ListRecordsBetween returns records created in [start, end), oldest first.
func (s *GormStore) ListRecordsBetween(userID string, start, end time.Time) ([]domain.Record, error) {
	var models []RecordModel
	if err := s.db.Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, start.UTC(), end.UTC()).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return recordsFromModels(models), nil
}

// GetDailyReport returns the cached report for a user and date.
func (s *GormStore) GetDailyReport(userID, date string) (domain.DailyReport, bool, error) {
	var model DailyReportModel
	if err := s.db.Where("user_id = ? AND date = ?", userID, date).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DailyReport{}, false, nil
		}
		return domain.DailyReport{}, false, err
	}
	return reportFromModel(model), true, nil
}

// CreateDailyReport inserts a report, relying on the (user_id, date) unique
// index to reject a second writer.
func (s *GormStore) CreateDailyReport(report domain.DailyReport) error {
	model := reportToModel(report)
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDailyReportExists
	}
	return nil
}

// ListDailyReports returns reports with fromDate <= date <= toDate, ordered by date.
func (s *GormStore) ListDailyReports(userID, fromDate, toDate string) ([]domain.DailyReport, error) {
	var models []DailyReportModel
	if err := s.db.Where("user_id = ? AND date >= ? AND date <= ?", userID, fromDate, toDate).
		Order("date ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	reports := make([]domain.DailyReport, 0, len(models))
	for _, m := range models {
		reports = append(reports, reportFromModel(m))
	}
	return reports, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:          u.ID,
		PhoneNumber: u.PhoneNumber,
		FullName:    u.FullName,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:          m.ID,
		PhoneNumber: m.PhoneNumber,
		FullName:    m.FullName,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func recordToModel(r domain.Record) (RecordModel, error) {
	cats, err := json.Marshal(r.Categories)
	if err != nil {
		return RecordModel{}, fmt.Errorf("marshal categories: %w", err)
	}
	return RecordModel{
		ID:           r.ID,
		UserID:       r.UserID,
		Content:      r.Content,
		RecordType:   string(r.RecordType),
		EmotionScore: r.EmotionScore,
		Categories:   cats,
		CreatedAt:    r.CreatedAt.UTC(),
	}, nil
}

func recordFromModel(m RecordModel) domain.Record {
	var cats []domain.Category
	if len(m.Categories) > 0 {
		_ = json.Unmarshal(m.Categories, &cats)
	}
	return domain.Record{
		ID:           m.ID,
		UserID:       m.UserID,
		Content:      m.Content,
		RecordType:   domain.RecordType(m.RecordType),
		EmotionScore: m.EmotionScore,
		Categories:   cats,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func recordsFromModels(models []RecordModel) []domain.Record {
	out := make([]domain.Record, 0, len(models))
	for _, m := range models {
		out = append(out, recordFromModel(m))
	}
	return out
}

func reportToModel(r domain.DailyReport) DailyReportModel {
	return DailyReportModel{
		ID:             r.ID,
		UserID:         r.UserID,
		Date:           r.Date,
		LifeIndex:      r.LifeIndex,
		HealthScore:    r.HealthScore,
		WealthScore:    r.WealthScore,
		HappinessScore: r.HappinessScore,
		Summary:        r.Summary,
		Analysis:       r.Analysis,
		RiskWarning:    r.RiskWarning,
		Advice:         r.Advice,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func reportFromModel(m DailyReportModel) domain.DailyReport {
	return domain.DailyReport{
		ID:     m.ID,
		UserID: m.UserID,
		Date:   m.Date,
		ReportContent: domain.ReportContent{
			LifeIndex:      m.LifeIndex,
			HealthScore:    m.HealthScore,
			WealthScore:    m.WealthScore,
			HappinessScore: m.HappinessScore,
			Summary:        m.Summary,
			Analysis:       m.Analysis,
			RiskWarning:    m.RiskWarning,
			Advice:         m.Advice,
		},
		CreatedAt: m.CreatedAt.UTC(),
	}
}
