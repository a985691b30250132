package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// UserID identifies a user. Schedule entries are keyed by this type rather
// than by formatted strings so two users can never collide on a job key.
type UserID int64

// User is the slice of the account record the reminder core needs.
// Credentials and session state live behind the web layer and are
// intentionally absent here.
type User struct {
	ID           UserID
	Email        string
	Phone        string
	ReminderTime string // preferred daily fire time, "HH:MM" local wall clock
}

// Clock is a validated wall-clock time of day.
type Clock struct {
	Hour   int // 0..23
	Minute int // 0..59
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// CronSpec renders the 5-field cron expression firing once daily at c.
func (c Clock) CronSpec() string {
	return fmt.Sprintf("%d %d * * *", c.Minute, c.Hour)
}

// ParseClock parses a preference string of the form "HH:MM".
// Hour must be 0..23 and minute 0..59; anything else is rejected so the
// reconciler can skip the user instead of registering a bad trigger.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}
