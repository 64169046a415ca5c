package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AllRecipients is the sentinel list reference meaning "every active
// recipient", resolved by the mailer at send time. It is never stored as a
// fixed membership set.
var AllRecipients = uuid.Nil

// AllRecipientsName is the display name presented for the sentinel list.
const AllRecipientsName = "All Recipients"

// TimeOfDay is the local wall-clock send time applied to every occurrence of
// a schedule. Timezone-naive by design.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("hour must be 0-23, got %d", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("minute must be 0-59, got %d", t.Minute)
	}
	return nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Schedule is a named recurring newsletter send.
type Schedule struct {
	ID   uuid.UUID
	Name string

	Rule       Rule
	AnchorDate time.Time // calendar date, midnight; day-of-month/weekday source of truth
	SendTime   TimeOfDay

	ListID     uuid.UUID // AllRecipients means the synthetic "all" group
	TemplateID uuid.UUID

	DaysBack  int // trailing days of stats included when rendering
	ItemCount int // items per rendered section

	LastSent *time.Time // nil means never sent
	NextSend time.Time

	Active    bool
	CreatedAt time.Time
}

// Due reports whether the schedule should fire at now.
func (s Schedule) Due(now time.Time) bool {
	return s.Active && !s.NextSend.After(now)
}

// RecipientList is a named set of recipients the mailer resolves at send time.
type RecipientList struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Template is a named newsletter content template.
type Template struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Occurrence is one projected firing of a schedule inside a calendar window.
// Projections never touch stored schedule state.
type Occurrence struct {
	ScheduleID uuid.UUID
	Name       string
	Rule       Rule
	SendTime   TimeOfDay
}
