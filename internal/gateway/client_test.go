package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Body   map[string]any
}

func newBackend(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()

	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{Method: r.Method, Path: r.URL.Path}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		mu.Lock()
		calls = append(calls, rec)
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(&ClientConfig{BaseURL: srv.URL + "/api/", Timeout: 2 * time.Second}, zerolog.Nop())
	return c, &calls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSendCommand_Success(t *testing.T) {
	c, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "response": "3:45 PM"})
	})

	res, err := c.SendCommand(context.Background(), "what time is it")
	require.NoError(t, err)
	assert.Equal(t, "3:45 PM", res.Response)

	require.Len(t, *calls, 1)
	assert.Equal(t, http.MethodPost, (*calls)[0].Method)
	assert.Equal(t, "/api/command", (*calls)[0].Path)
	assert.Equal(t, "what time is it", (*calls)[0].Body["command"])
}

func TestSendCommand_Rejected(t *testing.T) {
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success":  false,
			"error":    "boom",
			"response": "Error processing command: boom",
		})
	})

	res, err := c.SendCommand(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServerRejected))
	assert.False(t, errors.Is(err, ErrNetworkFailure))
	require.NotNil(t, res)

	msg, ok := RejectionMessage(err)
	assert.True(t, ok)
	assert.Equal(t, "Error processing command: boom", msg)

	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusInternalServerError, rej.StatusCode)
}

func TestSendCommand_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(&ClientConfig{BaseURL: url}, zerolog.Nop())
	_, err := c.SendCommand(context.Background(), "hello")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkFailure))
	assert.False(t, errors.Is(err, ErrServerRejected))
}

func TestSendCommand_UndecodableBodyIsNetworkFailure(t *testing.T) {
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := c.SendCommand(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrNetworkFailure))
}

func TestSendCommand_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(&ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, zerolog.Nop())
	_, err := c.SendCommand(context.Background(), "hello")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkFailure))
	assert.True(t, IsTimeout(err))
}

func TestQuickAction_Paths(t *testing.T) {
	c, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "response": r.URL.Path})
	})

	for _, kind := range []QuickKind{QuickTime, QuickWeather, QuickNews} {
		res, err := c.QuickAction(context.Background(), kind)
		require.NoError(t, err)
		assert.Equal(t, "/api/"+string(kind), res.Response)
	}
	for _, call := range *calls {
		assert.Equal(t, http.MethodGet, call.Method)
	}

	_, err := c.QuickAction(context.Background(), "reminders")
	assert.Error(t, err)
	assert.Len(t, *calls, 3)
}

func TestListReminders(t *testing.T) {
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": []map[string]any{
				{"id": 1, "text": "call mom", "time": "2024-01-01T17:00:00", "formatted_time": "05:00 PM on January 01"},
				{"id": 2, "text": "stretch", "time": "2024-01-02T09:30:00.123456", "formatted_time": "09:30 AM on January 02"},
			},
		})
	})

	list, err := c.ListReminders(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, "call mom", list[0].Text)
	assert.Equal(t, 17, list[0].Time.Hour())
	assert.Equal(t, 30, list[1].Time.Minute())
}

func TestListReminders_EmptyData(t *testing.T) {
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": nil})
	})

	list, err := c.ListReminders(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestListReminders_Rejected(t *testing.T) {
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "db locked"})
	})

	_, err := c.ListReminders(context.Background())
	assert.True(t, errors.Is(err, ErrServerRejected))
}

func TestReminderMutations(t *testing.T) {
	c, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "response": "ok"})
	})
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 17, 0, 0, 0, time.Local)

	_, err := c.UpdateReminder(ctx, 7, "call dad", at)
	require.NoError(t, err)
	_, err = c.DeleteReminder(ctx, 7)
	require.NoError(t, err)
	_, err = c.ClearReminders(ctx)
	require.NoError(t, err)

	require.Len(t, *calls, 3)
	assert.Equal(t, recorded{Method: http.MethodPut, Path: "/api/reminders/7", Body: map[string]any{
		"text": "call dad",
		"time": "2024-01-01T17:00:00",
	}}, (*calls)[0])
	assert.Equal(t, http.MethodDelete, (*calls)[1].Method)
	assert.Equal(t, "/api/reminders/7", (*calls)[1].Path)
	assert.Equal(t, "/api/reminders/clear", (*calls)[2].Path)
}

func TestCreateReminderCommand(t *testing.T) {
	c, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "response": "Reminder set"})
	})

	_, err := c.CreateReminderCommand(context.Background(), "call mom", "17:00", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, "remind me to call mom at 17:00 on 2024-01-01", (*calls)[0].Body["command"])
}

func TestReminderCommand(t *testing.T) {
	tests := []struct {
		desc, at, on string
		want         string
	}{
		{"call mom", "17:00", "2024-01-01", "remind me to call mom at 17:00 on 2024-01-01"},
		{"call mom", "", "", "remind me to call mom"},
		{"  water plants ", "08:15", "", "remind me to water plants at 08:15"},
		{"pay rent", "", "2024-02-01", "remind me to pay rent on 2024-02-01"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ReminderCommand(tc.desc, tc.at, tc.on))
	}
}

func TestFetchConfig(t *testing.T) {
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"wake_word":    "assistant",
			"default_city": "Hyderabad",
			"speech_rate":  180,
			"extra":        "kept",
		})
	})

	cfg, err := c.FetchConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hyderabad", cfg.DefaultCity)
	assert.Equal(t, float64(180), cfg.SpeechRate)
	assert.Equal(t, "kept", cfg.Raw["extra"])
}

func TestObserver(t *testing.T) {
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false})
	})

	var ops []string
	var errs []error
	c.SetObserver(func(op string, _ time.Duration, err error) {
		ops = append(ops, op)
		errs = append(errs, err)
	})

	_, _ = c.DeleteReminder(context.Background(), 3)
	assert.Equal(t, []string{"delete_reminder"}, ops)
	// Envelope rejection is decided after the transport finished cleanly.
	assert.NoError(t, errs[0])
}

func TestCommandResult_AffectsReminders(t *testing.T) {
	assert.True(t, (&CommandResult{Data: map[string]any{"text": "x", "time": "2024-01-01T17:00:00"}}).AffectsReminders())
	assert.False(t, (&CommandResult{Data: map[string]any{"time": "3:45 PM", "date": "Monday"}}).AffectsReminders())
	assert.False(t, (&CommandResult{Data: []any{map[string]any{"text": "x", "time": "y"}}}).AffectsReminders())
	assert.False(t, (&CommandResult{}).AffectsReminders())
	assert.False(t, (*CommandResult)(nil).AffectsReminders())
}

func TestTimestamp_JSON(t *testing.T) {
	var r Reminder
	require.NoError(t, json.Unmarshal([]byte(`{"id":4,"time":"2024-03-05T07:08:09Z"}`), &r))
	assert.Equal(t, 2024, r.Time.Year())

	out, err := json.Marshal(Timestamp{time.Date(2024, 3, 5, 7, 8, 9, 0, time.Local)})
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-05T07:08:09"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"time":"tomorrow"}`), &r))
}

func TestArrayData(t *testing.T) {
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"response": "Here are the top general news headlines",
			"data":     []any{map[string]any{"title": "Headline"}},
		})
	})

	res, err := c.QuickAction(context.Background(), QuickNews)
	require.NoError(t, err)
	assert.Equal(t, "Here are the top general news headlines", res.Response)
	assert.Len(t, res.Data, 1)
	assert.False(t, res.AffectsReminders())

	res, err = c.SendCommand(context.Background(), "show my reminders")
	require.NoError(t, err)
	assert.IsType(t, []any{}, res.Data)
	assert.False(t, res.AffectsReminders())
}

func TestBadBaseURLIsNetworkFailure(t *testing.T) {
	c := NewClient(&ClientConfig{BaseURL: "http://bad host/api"}, zerolog.Nop())

	_, err := c.SendCommand(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkFailure)
}

func TestTruncateForLog(t *testing.T) {
	assert.Equal(t, "short", truncateForLog("short", 10))
	assert.Equal(t, "abc...", truncateForLog("abcdef", 3))

	out := truncateForLog("aé°C", 2)
	assert.Equal(t, "a...", out)
	assert.True(t, utf8.ValidString(out))
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "http://localhost:5000", Origin("http://localhost:5000/api"))
	assert.Equal(t, "https://assist.example.com", Origin("https://assist.example.com"))
	assert.Equal(t, "not a url", Origin("not a url"))
}
