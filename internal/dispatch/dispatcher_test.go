package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/queue"
)

func testBroker(t *testing.T) *queue.Memory {
	t.Helper()
	m := queue.NewMemory(queue.MemoryConfig{
		VisibilityTimeout: time.Minute,
		MaxReceiveCount:   3,
		Depth:             64,
	})
	t.Cleanup(m.Close)
	return m
}

func testConfig() Config {
	return Config{
		Stage:          "test",
		Queue:          "work",
		BatchSize:      4,
		BatchWait:      20 * time.Millisecond,
		MaxConcurrency: 2,
		TaskTimeout:    time.Second,
	}
}

// runDispatcher starts d and returns a stop func that cancels and waits.
func runDispatcher(t *testing.T, d *Dispatcher) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher did not stop")
		}
	}
}

func waitDrained(t *testing.T, m *queue.Memory, queueName string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ready, inflight, _ := m.Depth(queueName)
		if ready == 0 && inflight == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queue never drained")
}

func TestRun_AcksOnSuccess(t *testing.T) {
	m := testBroker(t)
	var mu sync.Mutex
	var bodies []string

	d := New(m, func(_ context.Context, msg queue.Message) error {
		mu.Lock()
		bodies = append(bodies, string(msg.Body))
		mu.Unlock()
		return nil
	}, testConfig())
	stop := runDispatcher(t, d)
	defer stop()

	require.NoError(t, m.Publish(context.Background(), "work", []byte("a")))
	require.NoError(t, m.Publish(context.Background(), "work", []byte("b")))

	waitDrained(t, m, "work")

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, bodies)
	_, _, dead := m.Depth("work")
	assert.Zero(t, dead)
}

func TestRun_DropErrorAcks(t *testing.T) {
	m := testBroker(t)
	var calls int32
	var mu sync.Mutex

	d := New(m, func(context.Context, queue.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return eris.Wrap(ErrDrop, "lead row gone")
	}, testConfig())
	stop := runDispatcher(t, d)
	defer stop()

	require.NoError(t, m.Publish(context.Background(), "work", []byte("poison")))
	waitDrained(t, m, "work")

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, calls, "dropped message must not be redelivered")
	_, _, dead := m.Depth("work")
	assert.Zero(t, dead, "dropped message must not dead-letter")
}

func TestRun_ErrorNacksUntilDeadLettered(t *testing.T) {
	m := testBroker(t)
	var mu sync.Mutex
	var calls int

	d := New(m, func(context.Context, queue.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return eris.New("handler broke")
	}, testConfig())
	stop := runDispatcher(t, d)
	defer stop()

	require.NoError(t, m.Publish(context.Background(), "work", []byte("bad")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, dead := m.Depth("work"); dead == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, _, dead := m.Depth("work")
	require.Equal(t, 1, dead)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls, "receive ceiling bounds delivery attempts")
}

func TestRun_StopsOnCancelAndFinishesInFlight(t *testing.T) {
	m := testBroker(t)
	started := make(chan struct{})
	finished := make(chan struct{})

	d := New(m, func(context.Context, queue.Message) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return nil
	}, testConfig())
	stop := runDispatcher(t, d)

	require.NoError(t, m.Publish(context.Background(), "work", []byte("slow")))
	<-started
	stop()

	select {
	case <-finished:
	default:
		t.Fatal("in-flight handler was abandoned on shutdown")
	}
}
