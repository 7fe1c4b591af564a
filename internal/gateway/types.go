package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// QuickKind is a no-argument shortcut endpoint on the backend.
type QuickKind string

const (
	QuickTime    QuickKind = "time"
	QuickWeather QuickKind = "weather"
	QuickNews    QuickKind = "news"
)

// Valid reports whether k names a backend shortcut.
func (k QuickKind) Valid() bool {
	switch k {
	case QuickTime, QuickWeather, QuickNews:
		return true
	}
	return false
}

// CommandResult is the backend reply to a command or quick action.
type CommandResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
	// Data is whatever the backend attached: an object for a stored
	// reminder, an array for news headlines or reminder lists.
	Data any `json:"data,omitempty"`
}

// AffectsReminders reports whether the reply describes a reminder the
// backend just stored, which is the shape of a successful "remind me" command.
func (r *CommandResult) AffectsReminders() bool {
	if r == nil {
		return false
	}
	obj, ok := r.Data.(map[string]any)
	if !ok {
		return false
	}
	_, hasText := obj["text"]
	_, hasTime := obj["time"]
	return hasText && hasTime
}

// BackendConfig is the subset of GET /config the front end uses.
type BackendConfig struct {
	WakeWord       string  `json:"wake_word"`
	DefaultCity    string  `json:"default_city"`
	DefaultCountry string  `json:"default_country"`
	SpeechRate     float64 `json:"speech_rate"`
	SpeechVolume   float64 `json:"speech_volume"`

	// Raw keeps the full document, which may carry fields not listed above.
	Raw map[string]any `json:"-"`
}

// Reminder mirrors one backend reminder.
type Reminder struct {
	ID            int64     `json:"id"`
	Text          string    `json:"text"`
	Time          Timestamp `json:"time"`
	FormattedTime string    `json:"formatted_time"`
}

// ReminderFormattedLayout is the backend's display layout for reminder times.
const ReminderFormattedLayout = "03:04 PM on January 02"

// Timestamp is an instant exchanged as ISO-8601. The backend emits local
// times without a zone offset, so both forms are accepted.
type Timestamp struct {
	time.Time
}

// isoLayouts are tried in order when decoding.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ISOLayout is used when sending times to the backend.
const ISOLayout = "2006-01-02T15:04:05"

// ParseTimestamp parses an ISO-8601 string in local time when no zone is given.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return Timestamp{t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(ISOLayout))
}

type reminderList struct {
	Success  bool       `json:"success"`
	Response string     `json:"response"`
	Error    string     `json:"error,omitempty"`
	Data     []Reminder `json:"data"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type updateRequest struct {
	Text string `json:"text"`
	Time string `json:"time"`
}
