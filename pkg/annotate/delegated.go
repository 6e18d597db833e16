package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/inkth/jifou/pkg/ai"
	"github.com/inkth/jifou/pkg/domain"
)

const annotateSystemPrompt = `你是一个情绪与生活分类助手。分析用户的一条记录，只输出 JSON：
{"emotion_score": 0 到 1 之间的小数, "categories": ["health" | "wealth" | "happiness", ...]}
不要输出任何其他内容。`

const aggregateSystemPrompt = `你是一个生活报告助手。根据用户今天的全部记录生成人生报告，只输出 JSON：
{"health_score": 0-100 整数, "wealth_score": 0-100 整数, "happiness_score": 0-100 整数,
 "summary": "总结", "analysis": "解析", "risk_warning": "风险提示", "advice": "明日建议"}
不要输出任何其他内容。`

var errMalformedOutput = errors.New("malformed generator output")

// Delegated asks a text-generation endpoint for structured annotations.
// It never falls back on its own; compose it with WithFallback.
type Delegated struct {
	gen ai.TextGenerator
}

func NewDelegated(gen ai.TextGenerator) *Delegated {
	return &Delegated{gen: gen}
}

type annotationOutput struct {
	EmotionScore *float64 `json:"emotion_score"`
	Categories   []string `json:"categories"`
}

type reportOutput struct {
	HealthScore    *int   `json:"health_score"`
	WealthScore    *int   `json:"wealth_score"`
	HappinessScore *int   `json:"happiness_score"`
	Summary        string `json:"summary"`
	Analysis       string `json:"analysis"`
	RiskWarning    string `json:"risk_warning"`
	Advice         string `json:"advice"`
}

func (d *Delegated) Annotate(ctx context.Context, text string) (domain.Annotation, error) {
	raw, err := d.gen.GenerateText(ctx, annotateSystemPrompt, "记录：\n"+text)
	if err != nil {
		return domain.Annotation{}, fmt.Errorf("generate annotation: %w", err)
	}
	var out annotationOutput
	if err := decodeJSONObject(raw, &out); err != nil {
		return domain.Annotation{}, err
	}
	if out.EmotionScore == nil || *out.EmotionScore < 0 || *out.EmotionScore > 1 {
		return domain.Annotation{}, fmt.Errorf("%w: emotion_score out of range", errMalformedOutput)
	}
	return domain.Annotation{
		EmotionScore: roundScore(*out.EmotionScore),
		Categories:   normalizeCategories(out.Categories),
	}, nil
}

func (d *Delegated) Aggregate(ctx context.Context, records []domain.Record) (domain.ReportContent, error) {
	if len(records) == 0 {
		return domain.ReportContent{}, ErrNoRecords
	}
	var b strings.Builder
	b.WriteString("以下是用户今天的记录：\n")
	for _, r := range records {
		fmt.Fprintf(&b, "- %s\n", r.Content)
	}
	raw, err := d.gen.GenerateText(ctx, aggregateSystemPrompt, b.String())
	if err != nil {
		return domain.ReportContent{}, fmt.Errorf("generate report: %w", err)
	}
	var out reportOutput
	if err := decodeJSONObject(raw, &out); err != nil {
		return domain.ReportContent{}, err
	}
	for name, v := range map[string]*int{
		"health_score":    out.HealthScore,
		"wealth_score":    out.WealthScore,
		"happiness_score": out.HappinessScore,
	} {
		if v == nil || *v < 0 || *v > 100 {
			return domain.ReportContent{}, fmt.Errorf("%w: %s out of range", errMalformedOutput, name)
		}
	}
	if strings.TrimSpace(out.Summary) == "" {
		return domain.ReportContent{}, fmt.Errorf("%w: summary missing", errMalformedOutput)
	}
	return domain.ReportContent{
		LifeIndex:      LifeIndex(records),
		HealthScore:    *out.HealthScore,
		WealthScore:    *out.WealthScore,
		HappinessScore: *out.HappinessScore,
		Summary:        strings.TrimSpace(out.Summary),
		Analysis:       strings.TrimSpace(out.Analysis),
		RiskWarning:    strings.TrimSpace(out.RiskWarning),
		Advice:         strings.TrimSpace(out.Advice),
	}, nil
}

// decodeJSONObject tolerates markdown fences and prose around the object.
func decodeJSONObject(raw string, out any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no json object", errMalformedOutput)
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", errMalformedOutput, err)
	}
	return nil
}

// normalizeCategories keeps known labels once, in vocabulary order, and
// falls back to happiness.
func normalizeCategories(labels []string) []domain.Category {
	seen := make(map[domain.Category]bool, len(labels))
	for _, l := range labels {
		if c, ok := domain.ParseCategory(strings.ToLower(strings.TrimSpace(l))); ok {
			seen[c] = true
		}
	}
	cats := make([]domain.Category, 0, len(seen))
	for _, c := range domain.Categories {
		if seen[c] {
			cats = append(cats, c)
		}
	}
	if len(cats) == 0 {
		cats = append(cats, domain.CategoryHappiness)
	}
	return cats
}
