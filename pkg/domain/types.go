package domain

import "time"

type RecordType string

const (
	RecordText  RecordType = "text"
	RecordVoice RecordType = "voice"
)

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	return t == RecordText || t == RecordVoice
}

type Category string

const (
	CategoryHealth    Category = "health"
	CategoryWealth    Category = "wealth"
	CategoryHappiness Category = "happiness"
)

// Categories lists the fixed category vocabulary in display order.
var Categories = []Category{CategoryHealth, CategoryWealth, CategoryHappiness}

// ParseCategory maps a label onto the vocabulary.
func ParseCategory(raw string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == raw {
			return c, true
		}
	}
	return "", false
}

// DateLayout is the ISO calendar date format used for report dates.
const DateLayout = "2006-01-02"

type User struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	FullName    string    `json:"full_name,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Record is a single journal entry with its derived annotation.
type Record struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Content      string     `json:"content"`
	RecordType   RecordType `json:"record_type"`
	EmotionScore float64    `json:"emotion_score"`
	Categories   []Category `json:"categories"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Annotation is the derived metadata attached to a record.
type Annotation struct {
	EmotionScore float64
	Categories   []Category
}

// ReportContent is the generated part of a daily report.
type ReportContent struct {
	LifeIndex      int    `json:"life_index"`
	HealthScore    int    `json:"health_score"`
	WealthScore    int    `json:"wealth_score"`
	HappinessScore int    `json:"happiness_score"`
	Summary        string `json:"summary"`
	Analysis       string `json:"analysis"`
	RiskWarning    string `json:"risk_warning"`
	Advice         string `json:"advice"`
}

type DailyReport struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Date   string `json:"date"`
	ReportContent
	CreatedAt time.Time `json:"created_at"`
}

type WeeklyReport struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Summary   string `json:"summary"`
	Trends    []int  `json:"trends"`
	IsLocked  bool   `json:"is_locked"`
}
