package models

import "time"

// ServiceLevel is a student's subscription tier.
type ServiceLevel string

const (
	ServiceLevel1  ServiceLevel = "level1"
	ServiceLevel2  ServiceLevel = "level2"
	ServicePremium ServiceLevel = "premium"
)

// StudentQuota tracks a student's monthly meeting consumption.
// LastResetAt is a first-of-month marker; the counter is zeroed exactly once
// per calendar month, lazily on the first consuming operation that observes
// LastResetAt < first-of-current-month, or eagerly by the batch reset.
type StudentQuota struct {
	StudentID    string       `db:"student_id" json:"student_id"`
	ServiceLevel ServiceLevel `db:"service_level" json:"service_level"`
	MeetingsUsed int          `db:"meetings_used" json:"meetings_used"`
	LastResetAt  time.Time    `db:"last_reset_at" json:"last_reset_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// QuotaDecision is the outcome of a quota admission check.
type QuotaDecision struct {
	Allowed      bool `json:"allowed"`
	AutoApproved bool `json:"auto_approved"`
}

// FirstOfMonth truncates an instant to the first day of its UTC month.
func FirstOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
