package models

import "time"

// AvailabilityWindow is a recurring weekly template of bookable local time.
// StartTime/EndTime are wall-clock values ("09:00") in the teacher's timezone
// and are never stored pre-converted to UTC; the UTC instant is derived per
// calendar date so DST transitions resolve correctly.
type AvailabilityWindow struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	DayOfWeek int       `db:"day_of_week" json:"day_of_week"` // 0=Sunday .. 6=Saturday
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BlockedInterval carves an exception out of a teacher's availability.
// Boundaries are UTC instants.
type BlockedInterval struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	StartAt   time.Time `db:"start_at" json:"start_at"`
	EndAt     time.Time `db:"end_at" json:"end_at"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SlotList is the payload returned for a slot listing request.
type SlotList struct {
	TeacherID string      `json:"teacher_id"`
	Date      string      `json:"date"`
	Duration  int         `json:"duration"`
	Slots     []time.Time `json:"slots"`
}
