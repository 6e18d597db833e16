package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID          string `gorm:"primaryKey"`
	PhoneNumber string `gorm:"uniqueIndex;not null"`
	FullName    string
	IsActive    bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

type RecordModel struct {
	ID           string         `gorm:"primaryKey"`
	UserID       string         `gorm:"not null;index:idx_record_user_created,priority:1"`
	Content      string         `gorm:"type:text;not null"`
	RecordType   string         `gorm:"not null"`
	EmotionScore float64        `gorm:"not null"`
	Categories   datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_record_user_created,priority:2"`
}

type DailyReportModel struct {
	ID             string    `gorm:"primaryKey"`
	UserID         string    `gorm:"not null;uniqueIndex:uidx_report_user_date,priority:1"`
	Date           string    `gorm:"type:varchar(10);not null;uniqueIndex:uidx_report_user_date,priority:2"`
	LifeIndex      int       `gorm:"not null"`
	HealthScore    int       `gorm:"not null"`
	WealthScore    int       `gorm:"not null"`
	HappinessScore int       `gorm:"not null"`
	Summary        string    `gorm:"type:text"`
	Analysis       string    `gorm:"type:text"`
	RiskWarning    string    `gorm:"type:text"`
	Advice         string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
}
