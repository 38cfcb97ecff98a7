package execution

import (
	"fmt"
	"time"

	"github.com/rxtech-lab/argo-engine/pkg/errors"
)

const sessionKeyLayout = "2006-01-02"

// SessionCalendar maps a timestamp to the trading session it belongs to.
// A session ends at Close in the calendar's time zone; timestamps at or
// after the close belong to the next day's session.
type SessionCalendar struct {
	location *time.Location
	close    time.Duration
}

// NewSessionCalendar builds a calendar for a time zone name (empty means UTC)
// and a session close in HH:MM (empty means midnight).
func NewSessionCalendar(timezone string, closeAt string) (*SessionCalendar, error) {
	location := time.UTC

	if timezone != "" {
		loaded, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "unknown session time zone %q", timezone)
		}

		location = loaded
	}

	var offset time.Duration

	if closeAt != "" {
		parsed, err := time.Parse("15:04", closeAt)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "session close %q is not HH:MM", closeAt)
		}

		offset = time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute
	}

	return &SessionCalendar{location: location, close: offset}, nil
}

// Key identifies the session containing t.
func (c *SessionCalendar) Key(t time.Time) string {
	local := t.In(c.location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.location)

	if c.close > 0 && local.Sub(midnight) >= c.close {
		midnight = midnight.AddDate(0, 0, 1)
	}

	return midnight.Format(sessionKeyLayout)
}

func (c *SessionCalendar) String() string {
	return fmt.Sprintf("%s close %s", c.location, c.close)
}
