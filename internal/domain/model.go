package domain

import (
	"encoding/json"
	"time"
)

// Core domain models. HTTP request/response shapes reuse these via json tags
// so the wire contract stays the one the web client already speaks.

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal audit lifecycle step.
// Every terminal state is reached through processing.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Predecessors lists the statuses from which to may be reached.
func Predecessors(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Module is a category tag on an audit result.
type Module string

const (
	ModuleSEO Module = "seo"
	ModuleAEO Module = "aeo"
	ModuleGEO Module = "geo"
	ModuleGMB Module = "gmb"
	// ModuleLocal is reserved by the result schema; the pipeline never produces it.
	ModuleLocal Module = "local"
)

// AnalyzedModules is the pipeline order.
var AnalyzedModules = []Module{ModuleSEO, ModuleAEO, ModuleGEO, ModuleGMB}

func (m Module) Valid() bool {
	switch m {
	case ModuleSEO, ModuleAEO, ModuleGEO, ModuleGMB, ModuleLocal:
		return true
	}
	return false
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	// SeverityWarning is never produced by the analyzer but is styled by the
	// report page, so it is accepted as input.
	SeverityWarning Severity = "warning"
	SeverityMedium  Severity = "medium"
	SeverityLow     Severity = "low"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

type Finding struct {
	Severity       Severity `json:"severity"`
	Issue          string   `json:"issue"`
	Recommendation string   `json:"recommendation"`
}

type Audit struct {
	ID             int64      `json:"id"`
	UserID         string     `json:"userId"`
	URL            string     `json:"url"`
	BusinessName   string     `json:"businessName"`
	PrimaryService string     `json:"primaryService"`
	TargetCity     string     `json:"targetCity"`
	GmbURL         *string    `json:"gmbUrl"`
	Status         Status     `json:"status"`
	OverallScore   int        `json:"overallScore"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"-"`
	FinishedAt     *time.Time `json:"-"`
}

type AuditResult struct {
	ID        int64           `json:"id"`
	AuditID   int64           `json:"auditId"`
	Module    Module          `json:"module"`
	Score     int             `json:"score"`
	Data      json.RawMessage `json:"data"`
	Findings  []Finding       `json:"findings"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AuditWithResults is an audit plus every result attached so far.
type AuditWithResults struct {
	Audit
	Results []AuditResult `json:"results"`
}

// NewAudit is the validated creation input.
type NewAudit struct {
	URL            string  `json:"url"`
	BusinessName   string  `json:"businessName"`
	PrimaryService string  `json:"primaryService"`
	TargetCity     string  `json:"targetCity"`
	GmbURL         *string `json:"gmbUrl,omitempty"`
}

// Analysis is the normalized analyzer output for one category.
// Score is nil when the model response carried no usable score.
type Analysis struct {
	Score    *int
	Findings []Finding
}

// ScoreOr returns the score, or def when absent.
func (a Analysis) ScoreOr(def int) int {
	if a.Score == nil {
		return def
	}
	return *a.Score
}
