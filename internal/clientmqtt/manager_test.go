package clientmqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectResolvesOnConnectEvent(t *testing.T) {
	m, tr, _ := newTestManager(t, queueConf())
	tr.onConnect = func(h EventHandler) {
		assert.False(t, m.IsReady(), "ready before the connect event")
		assert.Equal(t, StateConnecting, m.State())
		h.OnConnect()
	}

	assert.False(t, m.IsReady())
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsReady())
	assert.Equal(t, StateConnected, m.State())
}

func TestConnectRejectedOnError(t *testing.T) {
	m, tr, _ := newTestManager(t, queueConf())
	cause := errors.New("connection refused")
	tr.onConnect = func(h EventHandler) { h.OnError(cause) }

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, cause)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "tcp://fake:1883", connErr.Broker)
	assert.Equal(t, StateFailed, m.State())
	assert.False(t, m.IsReady())
}

func TestConnectOnlyOnce(t *testing.T) {
	m, tr, _ := newTestManager(t, queueConf())
	tr.onConnect = func(h EventHandler) { h.OnConnect() }

	require.NoError(t, m.Connect(context.Background()))
	assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyStarted)
}

func TestConnectContextCancelled(t *testing.T) {
	m, _, _ := newTestManager(t, queueConf())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateConnecting, m.State())

	// the transport finishes later; state still follows it
	m.OnConnect()
	assert.True(t, m.IsReady())
}

func TestCloseRejectsPendingConnect(t *testing.T) {
	m, tr, _ := newTestManager(t, queueConf())

	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return m.State() == StateConnecting }, time.Second, time.Millisecond)
	m.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionFailed)
	case <-time.After(time.Second):
		t.Fatal("Connect did not return after Close")
	}
	assert.True(t, tr.closed)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestEventsAfterCloseIgnored(t *testing.T) {
	m, tr, _ := newTestManager(t, queueConf())
	tr.onConnect = func(h EventHandler) { h.OnConnect() }
	require.NoError(t, m.Connect(context.Background()))

	m.Close()
	m.OnConnect()
	assert.False(t, m.IsReady())
	assert.Equal(t, StateDisconnected, m.State())

	m.OnError(errors.New("late"))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestReadinessFollowsEvents(t *testing.T) {
	m, tr, _ := newTestManager(t, queueConf())
	tr.onConnect = func(h EventHandler) { h.OnConnect() }
	require.NoError(t, m.Connect(context.Background()))

	steps := []struct {
		event string
		ready bool
		state State
	}{
		{"close", false, StateDisconnected},
		{"connect", true, StateConnected},
		{"error", false, StateFailed},
		{"close", false, StateFailed},
		{"connect", true, StateConnected},
		{"error", false, StateFailed},
		{"connect", true, StateConnected},
		{"close", false, StateDisconnected},
	}
	for i, s := range steps {
		switch s.event {
		case "connect":
			m.OnConnect()
		case "error":
			m.OnError(errors.New("lost"))
		case "close":
			m.OnClose()
		}
		assert.Equal(t, s.ready, m.IsReady(), "step %d (%s)", i, s.event)
		assert.Equal(t, s.state, m.State(), "step %d (%s)", i, s.event)
	}
}

func TestPublishEncoding(t *testing.T) {
	m, tr, _ := newTestManager(t, queueConf())
	tr.onConnect = func(h EventHandler) { h.OnConnect() }
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Publish("home/switch/1/on", struct{}{}))
	require.NoError(t, m.Publish("home/switch/1/on", map[string]interface{}{}))
	require.NoError(t, m.Publish("home/switch/1/state", "1"))
	require.NoError(t, m.Publish("home/dimmer/1/level", 42))
	require.NoError(t, m.Publish("home/dimmer/1/set", map[string]int{"level": 7}))

	assert.Equal(t, []published{
		{"home/switch/1/on", "{}"},
		{"home/switch/1/on", "{}"},
		{"home/switch/1/state", "1"},
		{"home/dimmer/1/level", "42"},
		{"home/dimmer/1/set", `{"level":7}`},
	}, tr.sent())
}

func TestPublishInvalid(t *testing.T) {
	m, _, _ := newTestManager(t, queueConf())
	assert.ErrorIs(t, m.Publish("", "1"), ErrInvalidTopic)
	assert.Error(t, m.Publish("t", make(chan int)))
}

func TestPublishFailPolicy(t *testing.T) {
	cfg := queueConf()
	cfg.Policy = PolicyFail
	m, tr, _ := newTestManager(t, cfg)

	err := m.Publish("home/switch/1/on", struct{}{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, tr.sent())
	assert.Equal(t, uint64(1), m.Stats().Rejected)
}

func TestPublishQueueFlushedOnConnect(t *testing.T) {
	m, tr, _ := newTestManager(t, queueConf())

	require.NoError(t, m.Publish("a", "1"))
	require.NoError(t, m.Publish("b", "2"))
	assert.Empty(t, tr.sent())
	assert.Equal(t, 2, m.Stats().Queued)

	m.OnConnect()
	require.Eventually(t, func() bool { return len(tr.sent()) == 2 }, time.Second, time.Millisecond)
	require.NoError(t, m.Publish("c", "3"))

	require.Eventually(t, func() bool { return len(tr.sent()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []published{{"a", "1"}, {"b", "2"}, {"c", "3"}}, tr.sent())
	assert.Equal(t, 0, m.Stats().Queued)
}

func TestPublishQueueFull(t *testing.T) {
	cfg := queueConf()
	cfg.QueueSize = 2
	m, _, _ := newTestManager(t, cfg)

	require.NoError(t, m.Publish("a", "1"))
	require.NoError(t, m.Publish("a", "2"))
	assert.ErrorIs(t, m.Publish("a", "3"), ErrQueueFull)
}

func TestPublishQueuePaced(t *testing.T) {
	cfg := queueConf()
	cfg.FlushRate = 50
	m, tr, _ := newTestManager(t, cfg)

	for i := 0; i < 4; i++ {
		require.NoError(t, m.Publish("a", i))
	}
	m.OnConnect()

	require.Eventually(t, func() bool { return len(tr.sent()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []published{{"a", "0"}, {"a", "1"}, {"a", "2"}, {"a", "3"}}, tr.sent())
}

func TestSubscribeMultiplexesOneTransportSubscription(t *testing.T) {
	m, tr, _ := newTestManager(t, queueConf())

	var got []string
	assert.True(t, m.Subscribe("s1", func(p []byte) error {
		got = append(got, "first:"+string(p))
		return nil
	}))
	assert.True(t, m.Subscribe("s1", func(p []byte) error {
		got = append(got, "second:"+string(p))
		return nil
	}))
	assert.True(t, m.Subscribe("s2", func([]byte) error { return nil }))

	assert.Equal(t, []string{"s1", "s2"}, tr.topics())

	m.OnMessage("s1", []byte("1"))
	assert.Equal(t, []string{"first:1", "second:1"}, got)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Dispatched)
	assert.Equal(t, 2, stats.Topics)
}

func TestSubscribeRejectsInvalid(t *testing.T) {
	m, tr, hook := newTestManager(t, queueConf())

	assert.False(t, m.Subscribe("", func([]byte) error { return nil }))
	assert.False(t, m.Subscribe("t", nil))
	assert.Empty(t, tr.topics())
	assert.Len(t, hook.Entries, 2)
}

func TestSubscribeAckLogged(t *testing.T) {
	m, tr, hook := newTestManager(t, queueConf())
	m.Subscribe("s1", func([]byte) error { return nil })

	tr.acks["s1"](errors.New("not authorised"))
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "s1 subscription error")
}

func TestOnMessageMissAndFailures(t *testing.T) {
	m, _, hook := newTestManager(t, queueConf())
	m.Subscribe("s1", func([]byte) error { return errors.New("bad") })
	m.Subscribe("s1", func([]byte) error { return nil })
	hook.Reset()

	m.OnMessage("nobody", []byte("x"))
	assert.Len(t, hook.Entries, 1)

	m.OnMessage("s1", []byte("x"))
	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, uint64(1), stats.Dispatched)
}

func TestOnMessageRoundTrip(t *testing.T) {
	m, _, _ := newTestManager(t, queueConf())

	payload := []byte(`{"on":true}`)
	var got []byte
	m.Subscribe("home/lamp/state", func(p []byte) error {
		got = p
		return nil
	})
	m.OnMessage("home/lamp/state", payload)
	assert.Equal(t, payload, got)
}

func TestConcurrentEventsSerialised(t *testing.T) {
	m, _, _ := newTestManager(t, queueConf())

	var (
		mu     sync.Mutex
		inside int
		peak   int
		count  int
	)
	m.Subscribe("t", func([]byte) error {
		mu.Lock()
		inside++
		if inside > peak {
			peak = inside
		}
		count++
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inside--
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.OnMessage("t", []byte("1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
	assert.Equal(t, 1, peak)
}
