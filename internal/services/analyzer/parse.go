package analyzer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"siteaudit/internal/domain"
)

// parse decodes a model response into an Analysis. Only a response that is
// not a JSON object is an error; everything inside is coerced.
func parse(raw string) (domain.Analysis, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(objectText(raw)), &v); err != nil {
		return domain.Analysis{}, fmt.Errorf("JSON parse failed: %w", err)
	}
	if v == nil {
		return domain.Analysis{}, fmt.Errorf("JSON parse failed: response is null")
	}
	return domain.Analysis{
		Score:    coerceScore(v["score"]),
		Findings: coerceFindings(v["findings"]),
	}, nil
}

// objectText digs the JSON object out of a model reply. Replies arrive bare,
// wrapped in a markdown fence, or with a sentence of prose around the object.
func objectText(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func coerceScore(v any) *int {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(math.Round(math.Max(0, math.Min(100, f))))
	return &n
}

func coerceFindings(v any) []domain.Finding {
	items, ok := v.([]any)
	if !ok {
		return []domain.Finding{}
	}
	out := make([]domain.Finding, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := domain.Finding{
			Severity:       coerceSeverity(firstString(m, "severity", "type", "level")),
			Issue:          firstString(m, "issue", "message", "title"),
			Recommendation: firstString(m, "recommendation", "fix", "remediation"),
		}
		if f.Issue == "" && f.Recommendation == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func coerceSeverity(s string) domain.Severity {
	sev := domain.Severity(strings.ToLower(strings.TrimSpace(s)))
	switch sev {
	case "high":
		return domain.SeverityCritical
	case "info":
		return domain.SeverityLow
	}
	if !sev.Valid() {
		return domain.SeverityMedium
	}
	return sev
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
