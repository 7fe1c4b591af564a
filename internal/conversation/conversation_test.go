package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_AppendKeepsOrder(t *testing.T) {
	l := NewLog()

	l.AppendUser("what time is it")
	l.AppendAssistant("🤖 Assistant: 3:45 PM")

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, SenderUser, entries[0].Sender)
	assert.Equal(t, "what time is it", entries[0].Content)
	assert.Equal(t, SenderAssistant, entries[1].Sender)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
}

func TestLog_IDsSortInAppendOrder(t *testing.T) {
	l := NewLog()
	for i := 0; i < 50; i++ {
		l.AppendUser("x")
	}

	entries := l.Entries()
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].ID, entries[i].ID)
	}
}

func TestLog_TimestampUsesClock(t *testing.T) {
	l := NewLog()
	l.SetClock(func() time.Time {
		return time.Date(2024, 1, 1, 15, 45, 7, 0, time.UTC)
	})

	e := l.AppendUser("hi")
	assert.Equal(t, "3:45:07 PM", e.Timestamp)
}

func TestLog_GreetingOnce(t *testing.T) {
	l := NewLog()

	_, ok := l.AppendGreetingOnce("hello")
	assert.True(t, ok)
	_, ok = l.AppendGreetingOnce("hello")
	assert.False(t, ok)
	_, ok = l.AppendGreetingOnce("a different greeting")
	assert.False(t, ok)

	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Greeted())
}

func TestLog_GreetingOnce_Concurrent(t *testing.T) {
	l := NewLog()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AppendGreetingOnce("hello")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, l.Len())
}

func TestLog_AppendHandler(t *testing.T) {
	l := NewLog()

	var seen []string
	l.SetAppendHandler(func(e Entry) { seen = append(seen, e.Content) })

	l.AppendGreetingOnce("hello")
	l.AppendUser("hi")

	assert.Equal(t, []string{"hello", "hi"}, seen)
}

func TestLog_AppendHandler_ConcurrentOrder(t *testing.T) {
	l := NewLog()

	var mu sync.Mutex
	var seen []string
	l.SetAppendHandler(func(e Entry) {
		mu.Lock()
		seen = append(seen, e.ID)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				l.AppendUser("u")
			} else {
				l.AppendAssistant("a")
			}
		}(i)
	}
	wg.Wait()

	entries := l.Entries()
	require.Len(t, seen, len(entries))
	for i, e := range entries {
		assert.Equal(t, e.ID, seen[i], "handler order differs at %d", i)
	}
}

func TestLog_EntriesIsACopy(t *testing.T) {
	l := NewLog()
	l.AppendUser("original")

	entries := l.Entries()
	entries[0].Content = "mutated"

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, "original", last.Content)
}
