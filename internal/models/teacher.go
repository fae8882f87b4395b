package models

import "time"

// Teacher represents an instructor offering bookable meetings.
// MaxDailyMeetings and BufferMinutes form the teacher's booking policy;
// Timezone is the IANA identifier used to resolve availability windows.
type Teacher struct {
	ID               string    `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	FullName         string    `db:"full_name" json:"full_name"`
	Subject          *string   `db:"subject" json:"subject,omitempty"`
	Timezone         string    `db:"timezone" json:"timezone"`
	MaxDailyMeetings int       `db:"max_daily_meetings" json:"max_daily_meetings"`
	BufferMinutes    int       `db:"buffer_minutes" json:"buffer_minutes"`
	Active           bool      `db:"active" json:"active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// TeacherFilter captures filtering options for listing teachers.
type TeacherFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
