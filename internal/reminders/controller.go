// Package reminders keeps a local mirror of the backend's reminder list.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/normanking/cortexassist/internal/bus"
	"github.com/normanking/cortexassist/internal/conversation"
	"github.com/normanking/cortexassist/internal/gateway"
	"github.com/rs/zerolog"
)

// Common errors
var (
	ErrEmptyText     = errors.New("reminder text is required")
	ErrNoPendingEdit = errors.New("no reminder is being edited")
)

// Draft layouts for the date and time form fields.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Gateway is the subset of the command gateway the controller calls.
type Gateway interface {
	ListReminders(ctx context.Context) ([]gateway.Reminder, error)
	CreateReminderCommand(ctx context.Context, description, at, on string) (*gateway.CommandResult, error)
	UpdateReminder(ctx context.Context, id int64, text string, at time.Time) (*gateway.CommandResult, error)
	DeleteReminder(ctx context.Context, id int64) (*gateway.CommandResult, error)
	ClearReminders(ctx context.Context) (*gateway.CommandResult, error)
	BaseURL() string
}

// Messages receives confirmation and failure replies.
type Messages interface {
	AppendAssistant(content string) conversation.Entry
}

// Draft holds form values for a new or edited reminder.
type Draft struct {
	Text string `json:"text"`
	Time string `json:"time"`
	Date string `json:"date"`
}

// PendingEdit is the reminder being edited and its draft values.
type PendingEdit struct {
	Reminder gateway.Reminder `json:"reminder"`
	Draft    Draft            `json:"draft"`
}

// Options configure the controller.
type Options struct {
	// Marker prefixes assistant messages.
	Marker string
	// RollbackOnFailure restores optimistically removed reminders when the
	// backend rejects a delete or clear. When false they stay removed until
	// the next refresh.
	RollbackOnFailure bool
}

// Controller owns the reminder cache, the panel, and the edit form.
type Controller struct {
	gw     Gateway
	msgs   Messages
	bus    *bus.EventBus
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	cache     []gateway.Reminder
	draft     Draft
	edit      *PendingEdit
	panelOpen bool
}

// NewController creates a controller with an empty cache.
func NewController(gw Gateway, msgs Messages, eventBus *bus.EventBus, opts Options, logger zerolog.Logger) *Controller {
	if eventBus == nil {
		eventBus = bus.NewEventBus()
	}
	if opts.Marker == "" {
		opts.Marker = "🤖 Assistant:"
	}
	return &Controller{
		gw:     gw,
		msgs:   msgs,
		bus:    eventBus,
		opts:   opts,
		logger: logger.With().Str("component", "reminders").Logger(),
		now:    time.Now,
		cache:  []gateway.Reminder{},
	}
}

// SetClock overrides the time source used to fill unset date or time fields.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Reminders returns a copy of the cache.
func (c *Controller) Reminders() []gateway.Reminder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.cache)
}

// Refresh replaces the cache with the backend's list. On failure the cache
// is emptied and the error returned.
func (c *Controller) Refresh(ctx context.Context) error {
	list, err := c.gw.ListReminders(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load reminders")
		list = []gateway.Reminder{}
	}

	c.mu.Lock()
	c.cache = list
	c.mu.Unlock()

	c.publishChanged("refresh", err == nil)
	if err != nil {
		return fmt.Errorf("refresh reminders: %w", err)
	}
	return nil
}

// Create asks the backend to set a reminder through its command phrase,
// clears the draft, and refreshes whatever the command returned.
func (c *Controller) Create(ctx context.Context, description, at, on string) (*gateway.CommandResult, error) {
	if strings.TrimSpace(description) == "" {
		return nil, ErrEmptyText
	}

	res, err := c.gw.CreateReminderCommand(ctx, description, at, on)
	if err != nil {
		c.logger.Warn().Err(err).Str("text", description).Msg("Create reminder failed")
	}

	c.mu.Lock()
	c.draft = Draft{}
	c.mu.Unlock()

	if rerr := c.Refresh(ctx); rerr != nil && err == nil {
		err = rerr
	}
	return res, err
}

// CreateFromDraft submits the current draft.
func (c *Controller) CreateFromDraft(ctx context.Context) (*gateway.CommandResult, error) {
	d := c.Draft()
	return c.Create(ctx, d.Text, d.Time, d.Date)
}

// Update sets the text and time of reminder id. at is "15:04" and on is
// "2006-01-02"; either may be empty, which keeps the current clock's value.
// On success the cache entry is patched before the trailing refresh.
func (c *Controller) Update(ctx context.Context, id int64, description, at, on string) error {
	if strings.TrimSpace(description) == "" {
		return ErrEmptyText
	}

	c.mu.Lock()
	now := c.now()
	c.mu.Unlock()

	when, err := CombineDateTime(now, on, at)
	if err != nil {
		return err
	}

	_, err = c.gw.UpdateReminder(ctx, id, description, when)
	if err != nil {
		c.logger.Warn().Err(err).Int64("id", id).Msg("Update reminder failed")
	} else {
		c.mu.Lock()
		for i := range c.cache {
			if c.cache[i].ID == id {
				c.cache[i].Text = description
				c.cache[i].Time = gateway.Timestamp{Time: when}
				c.cache[i].FormattedTime = when.Format(gateway.ReminderFormattedLayout)
			}
		}
		c.mu.Unlock()
		c.publishChanged("update", true)
	}

	if rerr := c.Refresh(ctx); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Delete removes id from the cache before asking the backend to delete it,
// then appends a confirmation or failure message.
func (c *Controller) Delete(ctx context.Context, id int64) error {
	c.mu.Lock()
	idx := slices.IndexFunc(c.cache, func(r gateway.Reminder) bool { return r.ID == id })
	var removed gateway.Reminder
	if idx >= 0 {
		removed = c.cache[idx]
		c.cache = slices.Delete(c.cache, idx, idx+1)
	}
	c.mu.Unlock()
	c.publishChanged("delete", true)

	res, err := c.gw.DeleteReminder(ctx, id)
	if err == nil {
		c.notify(res.Response, "Reminder deleted.")
		return nil
	}

	c.logger.Warn().Err(err).Int64("id", id).Msg("Delete reminder failed")
	c.notify(rejection(err), c.failure("Sorry, I couldn't delete that reminder.", err))

	if c.opts.RollbackOnFailure && idx >= 0 {
		c.mu.Lock()
		if !slices.ContainsFunc(c.cache, func(r gateway.Reminder) bool { return r.ID == id }) {
			c.cache = slices.Insert(c.cache, min(idx, len(c.cache)), removed)
		}
		c.mu.Unlock()
		c.publishChanged("rollback", true)
	}
	return err
}

// ClearAll empties the cache before asking the backend to clear it.
func (c *Controller) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	removed := c.cache
	c.cache = []gateway.Reminder{}
	c.mu.Unlock()
	c.publishChanged("clear", true)

	res, err := c.gw.ClearReminders(ctx)
	if err == nil {
		c.notify(res.Response, "All reminders cleared.")
		return nil
	}

	c.logger.Warn().Err(err).Msg("Clear reminders failed")
	c.notify(rejection(err), c.failure("Sorry, I couldn't clear your reminders.", err))

	if c.opts.RollbackOnFailure && len(removed) > 0 {
		c.mu.Lock()
		if len(c.cache) == 0 {
			c.cache = removed
		}
		c.mu.Unlock()
		c.publishChanged("rollback", true)
	}
	return err
}

// BeginEdit starts editing r, replacing any edit already pending. The draft
// is seeded from r's text, time, and date.
func (c *Controller) BeginEdit(r gateway.Reminder) {
	d := Draft{Text: r.Text}
	if !r.Time.IsZero() {
		d.Time = r.Time.Format(TimeLayout)
		d.Date = r.Time.Format(DateLayout)
	}

	c.mu.Lock()
	c.edit = &PendingEdit{Reminder: r, Draft: d}
	c.mu.Unlock()
	c.publishEdit()
}

// SetEditDraft changes the pending edit's draft values.
func (c *Controller) SetEditDraft(d Draft) error {
	c.mu.Lock()
	if c.edit == nil {
		c.mu.Unlock()
		return ErrNoPendingEdit
	}
	c.edit.Draft = d
	c.mu.Unlock()
	c.publishEdit()
	return nil
}

// PendingEdit returns the edit in progress, if any.
func (c *Controller) PendingEdit() (PendingEdit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit == nil {
		return PendingEdit{}, false
	}
	return *c.edit, true
}

// CancelEdit discards the pending edit.
func (c *Controller) CancelEdit() {
	c.mu.Lock()
	had := c.edit != nil
	c.edit = nil
	c.mu.Unlock()
	if had {
		c.publishEdit()
	}
}

// CommitEdit submits the pending edit through Update and clears it.
func (c *Controller) CommitEdit(ctx context.Context) error {
	c.mu.Lock()
	edit := c.edit
	c.edit = nil
	c.mu.Unlock()

	if edit == nil {
		return ErrNoPendingEdit
	}
	c.publishEdit()
	return c.Update(ctx, edit.Reminder.ID, edit.Draft.Text, edit.Draft.Time, edit.Draft.Date)
}

// Draft returns the new-reminder form values.
func (c *Controller) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraft replaces the new-reminder form values.
func (c *Controller) SetDraft(d Draft) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = d
}

// OpenPanel shows the reminder panel.
func (c *Controller) OpenPanel() { c.setPanel(true) }

// ClosePanel hides the reminder panel.
func (c *Controller) ClosePanel() { c.setPanel(false) }

// PanelOpen reports whether the panel is shown.
func (c *Controller) PanelOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panelOpen
}

func (c *Controller) setPanel(open bool) {
	c.mu.Lock()
	changed := c.panelOpen != open
	c.panelOpen = open
	c.mu.Unlock()

	if changed {
		c.bus.PublishSync(bus.Event{
			Type: bus.EventTypePanelToggled,
			Data: map[string]any{"open": open},
		})
	}
}

func (c *Controller) notify(text, fallback string) {
	if c.msgs == nil {
		return
	}
	if text == "" {
		text = fallback
	}
	c.msgs.AppendAssistant(c.opts.Marker + " " + text)
}

func (c *Controller) publishChanged(source string, ok bool) {
	c.bus.PublishSync(bus.Event{
		Type: bus.EventTypeRemindersChanged,
		Data: map[string]any{
			"reminders": c.Reminders(),
			"source":    source,
			"ok":        ok,
		},
	})
}

func (c *Controller) publishEdit() {
	data := map[string]any{"editing": false}
	if edit, ok := c.PendingEdit(); ok {
		data["editing"] = true
		data["edit"] = edit
	}
	c.bus.PublishSync(bus.Event{Type: bus.EventTypeEditChanged, Data: data})
}

// failure appends the expected backend location when err is a transport failure.
func (c *Controller) failure(msg string, err error) string {
	if errors.Is(err, gateway.ErrNetworkFailure) {
		return msg + " Please make sure the backend is running on " + gateway.Origin(c.gw.BaseURL())
	}
	return msg
}

// rejection returns the backend's own message for a rejected mutation.
func rejection(err error) string {
	msg, _ := gateway.RejectionMessage(err)
	return msg
}

// CombineDateTime builds an instant from now, overriding year, month, and
// day with date and hour and minute with clock when they are set.
func CombineDateTime(now time.Time, date, clock string) (time.Time, error) {
	y, m, d := now.Date()
	hh, mm, ss := now.Clock()
	nsec := now.Nanosecond()

	if date = strings.TrimSpace(date); date != "" {
		t, err := time.ParseInLocation(DateLayout, date, now.Location())
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
		}
		y, m, d = t.Date()
	}
	if clock = strings.TrimSpace(clock); clock != "" {
		t, err := parseClock(clock)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q: %w", clock, err)
		}
		hh, mm = t.Hour(), t.Minute()
		ss, nsec = 0, 0
	}
	return time.Date(y, m, d, hh, mm, ss, nsec, now.Location()), nil
}

var clockLayouts = []string{TimeLayout, "15:04:05", "3:04 PM", "3:04PM", "3 PM", "3PM"}

func parseClock(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, strings.ToUpper(s))
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
