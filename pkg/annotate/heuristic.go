package annotate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/inkth/jifou/pkg/domain"
)

var (
	positiveKeywords = []string{"好", "棒", "开心", "good", "great", "happy"}
	wealthKeywords   = []string{"钱", "工作", "加班", "项目", "财富", "money", "job", "office", "overtime", "project", "salary"}
	healthKeywords   = []string{"健身", "累", "舒服", "病", "健康", "跑", "gym", "workout", "tired", "sick", "healthy", "run"}
)

// Heuristic annotates by keyword matching with random jitter.
type Heuristic struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewHeuristic builds a heuristic annotator. A zero seed draws from the clock.
func NewHeuristic(seed int64) *Heuristic {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Heuristic{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))}
}

func (h *Heuristic) Annotate(_ context.Context, text string) (domain.Annotation, error) {
	lower := strings.ToLower(text)
	h.mu.Lock()
	jitter := h.rng.Float64()
	h.mu.Unlock()

	score := 0.3 + jitter*0.4
	if containsAny(lower, positiveKeywords) {
		score = 0.5 + jitter*0.5
	}
	return domain.Annotation{
		EmotionScore: roundScore(score),
		Categories:   categorize(lower),
	}, nil
}

func (h *Heuristic) Aggregate(_ context.Context, records []domain.Record) (domain.ReportContent, error) {
	if len(records) == 0 {
		return domain.ReportContent{}, ErrNoRecords
	}
	h.mu.Lock()
	health := 70 + h.rng.IntN(21)
	wealth := 60 + h.rng.IntN(31)
	happiness := 80 + h.rng.IntN(16)
	h.mu.Unlock()

	return domain.ReportContent{
		LifeIndex:      LifeIndex(records),
		HealthScore:    health,
		WealthScore:    wealth,
		HappinessScore: happiness,
		Summary:        fmt.Sprintf("今天你记录了 %d 件事。整体情绪表现稳定，你在多个领域都有所进展。", len(records)),
		Analysis:       "从记录来看，你的幸福感主要来源于成就感，而健康方面仍有提升空间。",
		RiskWarning:    "连续的思考可能导致大脑疲劳，建议增加体力活动。",
		Advice:         "明天可以尝试将一个大任务拆解，并安排一段完全放松的时间。",
	}, nil
}

// categorize returns wealth and/or health by keyword, else happiness.
func categorize(lower string) []domain.Category {
	var cats []domain.Category
	if containsAny(lower, wealthKeywords) {
		cats = append(cats, domain.CategoryWealth)
	}
	if containsAny(lower, healthKeywords) {
		cats = append(cats, domain.CategoryHealth)
	}
	if len(cats) == 0 {
		cats = append(cats, domain.CategoryHappiness)
	}
	return cats
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
