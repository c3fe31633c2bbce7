package dispatcher

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) log(level, msg string, keysAndValues []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, keysAndValues))
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) { l.log("DEBUG", msg, keysAndValues) }
func (l *testLogger) Info(msg string, keysAndValues ...any)  { l.log("INFO", msg, keysAndValues) }
func (l *testLogger) Warn(msg string, keysAndValues ...any)  { l.log("WARN", msg, keysAndValues) }
func (l *testLogger) Error(msg string, keysAndValues ...any) { l.log("ERROR", msg, keysAndValues) }

func (l *testLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	d, err := New(logger)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(":GENERATE:JOBS:", func(e Event) (any, error) {
		got = e
		return "result", nil
	})

	result, err := d.Dispatch(Event{Command: ":GENERATE:JOBS:", Args: []string{"CM"}})
	require.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.Equal(t, "CM", got.Arg(0))
	assert.Equal(t, "", got.Arg(1))
	assert.False(t, got.Timestamp.IsZero(), "timestamp is filled in")
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Command: ":UNKNOWN:"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register(":SAVE:", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Command: ":SAVE:"})
		require.NoError(t, err)
		assert.Equal(t, "queued", result)
	}

	wg.Wait()
	assert.Equal(t, int32(3), processed.Load())
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, logger := newTestDispatcher(t)

	block := make(chan struct{})
	d.Register(":FULL:", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(2))
	defer close(block)

	// At most one in the handler and two queued.
	d.Dispatch(Event{Command: ":FULL:"})
	d.Dispatch(Event{Command: ":FULL:"})
	d.Dispatch(Event{Command: ":FULL:"})

	_, err := d.Dispatch(Event{Command: ":FULL:"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, logger.count("WARN: queue full"))
}

func TestDispatcher_BufferedReportsFailures(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var wg sync.WaitGroup
	wg.Add(1)
	d.Register(":BROKEN:", func(e Event) (any, error) {
		defer wg.Done()
		return nil, fmt.Errorf("disk full")
	}, Buffered(1))

	_, err := d.Dispatch(Event{Command: ":BROKEN:"})
	require.NoError(t, err)
	wg.Wait()
	assert.Eventually(t, func() bool { return logger.count("ERROR: queued event failed") == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	d.Register(":BLOCKING:", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(1), Blocking())

	d.Dispatch(Event{Command: ":BLOCKING:"})
	d.Dispatch(Event{Command: ":BLOCKING:"})

	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Command: ":BLOCKING:"})
		d.Dispatch(Event{Command: ":BLOCKING:"})
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-done
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":STATUS:", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	_, err := d.Dispatch(Event{Command: ":STATUS:", Args: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, logger.count("DEBUG"))
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":LOAD:", func(e Event) (any, error) {
		return nil, fmt.Errorf("test error")
	}, Logged())

	_, err := d.Dispatch(Event{Command: ":LOAD:"})
	require.Error(t, err)
	assert.Equal(t, 1, logger.count("ERROR"))
}

func TestDispatcher_RecoveredHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var reported []string
	d.Register(":CAR:DELETION:", func(e Event) (any, error) {
		panic("boom")
	}, Recovered(func(component string, err error) {
		reported = append(reported, component)
	}))

	_, err := d.Dispatch(Event{Command: ":CAR:DELETION:"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{":CAR:DELETION:"}, reported)
	assert.Equal(t, 1, logger.count("ERROR"))
}

func TestDispatcher_HasHandlerAndCommands(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":SAVE:", func(e Event) (any, error) { return nil, nil })
	d.Register(":LOAD:", func(e Event) (any, error) { return nil, nil })

	assert.True(t, d.HasHandler(":SAVE:"))
	assert.False(t, d.HasHandler(":NOT_EXISTS:"))
	assert.Equal(t, []string{":LOAD:", ":SAVE:"}, d.Commands())
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	d.Register(":COMBINED:", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return "done", nil
	}, Buffered(100), Logged())

	result, err := d.Dispatch(Event{Command: ":COMBINED:"})
	require.NoError(t, err)
	assert.Equal(t, "queued", result)

	wg.Wait()
	assert.Equal(t, int32(1), processed.Load())
	assert.Eventually(t, func() bool { return logger.count("DEBUG") == 2 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_CloseDrainsBuffers(t *testing.T) {
	logger := &testLogger{}
	d, err := New(logger)
	require.NoError(t, err)

	var processed atomic.Int32
	d.Register(":SAVE:", func(e Event) (any, error) {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return nil, nil
	}, Buffered(10))

	for i := 0; i < 5; i++ {
		_, err := d.Dispatch(Event{Command: ":SAVE:"})
		require.NoError(t, err)
	}
	d.Close()
	assert.Equal(t, int32(5), processed.Load())

	_, err = d.Dispatch(Event{Command: ":SAVE:"})
	assert.ErrorIs(t, err, ErrClosed)
	d.Close()
}
