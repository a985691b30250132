package domain

import "time"

// DateLayout is the calendar-date format plants store in last_watered.
const DateLayout = "2006-01-02"

// PlantID identifies a plant record.
type PlantID int64

// Plant is one trackable record owned by a user. The reminder core only
// reads plants; their lifecycle belongs to the record store.
type Plant struct {
	ID             PlantID
	Name           string
	PlantType      string
	LastWatered    string // "YYYY-MM-DD", may be empty for never-watered plants
	WaterFrequency int    // interval in days between waterings
	OwnerID        UserID
}

// DueStatus classifies a plant relative to "today".
type DueStatus string

const (
	StatusToday    DueStatus = "today"    // due now or overdue
	StatusTomorrow DueStatus = "tomorrow" // due in exactly one day
	StatusFuture   DueStatus = "future"   // due in two or more days
	StatusUnknown  DueStatus = "unknown"  // never watered, nothing to compute
	StatusInvalid  DueStatus = "invalid"  // malformed record, skip but report
)

// Evaluation is the derived, ephemeral due state of one plant.
// DaysUntil is only meaningful for today/tomorrow/future.
type Evaluation struct {
	Status    DueStatus
	NextDue   time.Time
	DaysUntil int
}

// Evaluate computes the due status of a plant from its last-watered date and
// watering interval. It is pure: "today" is injected, and malformed input
// yields StatusInvalid rather than an error so one bad record never aborts a
// batch.
//
// A non-positive interval is treated as invalid. The data model requires a
// positive interval; inheriting an "always due" reading for zero or negative
// values would spam reminders on every tick.
func Evaluate(lastWatered string, intervalDays int, today time.Time) Evaluation {
	if lastWatered == "" {
		return Evaluation{Status: StatusUnknown}
	}
	if intervalDays <= 0 {
		return Evaluation{Status: StatusInvalid}
	}
	last, err := time.ParseInLocation(DateLayout, lastWatered, today.Location())
	if err != nil {
		return Evaluation{Status: StatusInvalid}
	}

	next := last.AddDate(0, 0, intervalDays)
	days := daysBetween(truncateToDay(today), next)

	ev := Evaluation{NextDue: next, DaysUntil: days}
	switch {
	case days <= 0:
		ev.Status = StatusToday
	case days == 1:
		ev.Status = StatusTomorrow
	default:
		ev.Status = StatusFuture
	}
	return ev
}

// EvaluatePlant is Evaluate applied to a plant record.
func EvaluatePlant(p Plant, today time.Time) Evaluation {
	return Evaluate(p.LastWatered, p.WaterFrequency, today)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// daysBetween counts whole calendar days from a to b (negative when b is
// before a). Both are expected at midnight; dividing the duration keeps the
// count stable across DST boundaries.
func daysBetween(a, b time.Time) int {
	d := b.Sub(a)
	days := int(d.Hours() / 24)
	// Round toward the nearest day to absorb the +-1h DST skew.
	rem := d - time.Duration(days)*24*time.Hour
	if rem > 12*time.Hour {
		days++
	} else if rem < -12*time.Hour {
		days--
	}
	return days
}
