package app

import (
	"fmt"
	"strings"
	"time"
)

// Completeness states.
const (
	CompletenessNoTemplate = "no_template"
	CompletenessSufficient = "sufficient"
	CompletenessWarning    = "warning"
	CompletenessCritical   = "critical"
)

// Completeness compares a record's provided papers against the service's
// required checklist.
type Completeness struct {
	State    string `json:"state"`
	Label    string `json:"label"`
	Required int    `json:"required"`
	Provided int    `json:"provided"`
	Missing  int    `json:"missing"`
}

// ClassifyCompleteness is pure: the same provided/required inputs always
// yield the same result. A service without a checklist is reported as
// "no template", never as sufficient.
func ClassifyCompleteness(provided, required []string) Completeness {
	providedCount := 0
	for _, doc := range provided {
		if strings.TrimSpace(doc) != "" {
			providedCount++
		}
	}
	requiredCount := len(required)
	missing := requiredCount - providedCount

	c := Completeness{
		Required: requiredCount,
		Provided: providedCount,
	}
	switch {
	case requiredCount == 0:
		c.State = CompletenessNoTemplate
		c.Label = "CHƯA MẪU"
	case missing <= 0:
		c.State = CompletenessSufficient
		c.Label = "ĐỦ HỒ SƠ"
	case missing <= 2:
		c.State = CompletenessWarning
		c.Label = fmt.Sprintf("THIẾU %d", missing)
		c.Missing = missing
	default:
		c.State = CompletenessCritical
		c.Label = "THIẾU NHIỀU"
		c.Missing = missing
	}
	return c
}

// Deadline is the remaining time until a record's promised return date.
type Deadline struct {
	Days    int  `json:"days"`
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Seconds int  `json:"seconds"`
	Overdue bool `json:"overdue"`
}

// ComputeDeadline returns nil when the record has no return date or the date
// cannot be parsed. The due instant is the start of the return day in local
// time, matching how clerks read "hẹn trả".
func ComputeDeadline(returnDate string, now time.Time) *Deadline {
	if strings.TrimSpace(returnDate) == "" {
		return nil
	}
	due, err := time.ParseInLocation("2006-01-02", returnDate, now.Location())
	if err != nil {
		return nil
	}

	remaining := due.Sub(now)
	if remaining <= 0 {
		return &Deadline{Overdue: true}
	}
	total := int(remaining.Seconds())
	return &Deadline{
		Days:    total / 86400,
		Hours:   (total % 86400) / 3600,
		Minutes: (total % 3600) / 60,
		Seconds: total % 60,
	}
}
