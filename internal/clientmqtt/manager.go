package clientmqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"mqttbridge/internal/logger"
	"golang.org/x/time/rate"
)

var errClosedBeforeConnect = errors.New("closed before connect acknowledgement")

// Manager owns the single broker connection. It tracks the connection state from
// transport events, multiplexes every subscription through one Router and applies
// the publish policy while the connection is down.
//
// Transport events are serialised: each one is processed fully before the next.
type Manager struct {
	log       logger.Logger
	cfg       MQTTConf
	transport Transport
	router    *Router
	limiter   *rate.Limiter

	eventMu sync.Mutex

	mu      sync.RWMutex
	state   State
	started bool
	closed  bool
	waiter  chan error

	qMu      sync.Mutex
	queue    []pending
	flushing bool

	dispatched atomic.Uint64
	misses     atomic.Uint64
	failures   atomic.Uint64
	published  atomic.Uint64
	rejected   atomic.Uint64
}

// NewManager конструктор.
func NewManager(log logger.Logger, cfg MQTTConf, transport Transport) *Manager {
	m := &Manager{
		log:       log,
		cfg:       cfg,
		transport: transport,
		router:    NewRouter(log),
		state:     StateDisconnected,
	}
	if cfg.FlushRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.FlushRate), 1)
	}
	return m
}

// Connect starts the transport and waits for its first connect or error event.
// Cancelling ctx stops the wait only; the transport keeps trying.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.state = StateConnecting
	done := make(chan error, 1)
	m.waiter = done
	m.mu.Unlock()

	m.log.With(logger.Fields{"module": "mqtt"}).Infof("starting MQTT connection to %s", m.transport.Broker())
	m.transport.Connect(m)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect: %w", ctx.Err())
	}
}

// Close disconnects the transport. A Connect still waiting is rejected and
// connection events arriving afterwards are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.transport.Disconnect()

	m.mu.Lock()
	m.state = StateDisconnected
	waiter := m.waiter
	m.waiter = nil
	m.mu.Unlock()

	if waiter != nil {
		waiter <- &ConnectionError{Broker: m.transport.Broker(), Err: errClosedBeforeConnect}
	}
	m.log.With(logger.Fields{"module": "mqtt"}).Info("MQTT connection stopped")
}

// IsReady reports whether the connection is up right now.
func (m *Manager) IsReady() bool {
	return m.State() == StateConnected
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Router exposes the subscription table for diagnostics.
func (m *Manager) Router() *Router {
	return m.router
}

// Subscribe registers cb for topic. The broker subscription is issued when the
// topic gets its first callback. It reports false only for an empty topic or nil cb.
func (m *Manager) Subscribe(topic string, cb Callback) bool {
	if topic == "" || cb == nil {
		m.log.With(logger.Fields{"module": "mqtt"}).Errorf("subscribe rejected: topic %q, callback set: %t", topic, cb != nil)
		return false
	}
	if !m.router.Subscribe(topic, cb) {
		return true
	}

	m.transport.Subscribe(topic, m.cfg.Qos, func(err error) {
		if err != nil {
			m.log.With(logger.Fields{"module": "mqtt"}).Errorf("topic %s subscription error. %v", topic, err)
			return
		}
		m.log.With(logger.Fields{"module": "mqtt"}).Infof("subscribed topic: %s", topic)
	})
	return true
}

// Publish encodes payload and hands it to the transport without waiting for delivery.
// While the connection is down the publish is queued or rejected per the policy.
func (m *Manager) Publish(topic string, payload interface{}) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	m.log.With(logger.Fields{"module": "mqtt"}).Debugf("publishing message %s to topic %s", data, topic)

	m.qMu.Lock()
	defer m.qMu.Unlock()

	if m.IsReady() && len(m.queue) == 0 {
		m.send(topic, data)
		return nil
	}
	if m.cfg.Policy == PolicyFail {
		m.rejected.Add(1)
		return fmt.Errorf("publish to %s: %w", topic, ErrNotConnected)
	}
	if len(m.queue) >= m.cfg.QueueSize {
		m.rejected.Add(1)
		return fmt.Errorf("publish to %s: %w", topic, ErrQueueFull)
	}
	m.queue = append(m.queue, pending{topic: topic, payload: data})
	return nil
}

func (m *Manager) send(topic string, data []byte) {
	m.transport.Publish(topic, m.cfg.Qos, data)
	m.published.Add(1)
}

// startFlush drains the queue in the background, oldest first.
func (m *Manager) startFlush() {
	m.qMu.Lock()
	defer m.qMu.Unlock()
	if m.flushing || len(m.queue) == 0 {
		return
	}
	m.flushing = true
	m.log.With(logger.Fields{"module": "mqtt"}).Infof("flushing %d queued messages", len(m.queue))
	go m.flush()
}

func (m *Manager) flush() {
	for {
		if m.limiter != nil {
			_ = m.limiter.Wait(context.Background())
		}

		m.qMu.Lock()
		if len(m.queue) == 0 || !m.IsReady() {
			m.flushing = false
			m.qMu.Unlock()
			return
		}
		p := m.queue[0]
		m.queue = m.queue[1:]
		m.send(p.topic, p.payload)
		m.qMu.Unlock()
	}
}

// OnConnect handles the transport's connect acknowledgement, initial or after a reconnect.
func (m *Manager) OnConnect() {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.log.With(logger.Fields{"module": "mqtt"}).Warn("connect event after close ignored")
		return
	}
	m.state = StateConnected
	waiter := m.waiter
	m.waiter = nil
	m.mu.Unlock()

	m.log.With(logger.Fields{"module": "mqtt"}).Info("MQTT connected")
	if waiter != nil {
		waiter <- nil
	}
	m.startFlush()
}

// OnError handles a transport failure. Only the first failure before a connect
// acknowledgement reaches the Connect caller.
func (m *Manager) OnError(err error) {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state = StateFailed
	waiter := m.waiter
	m.waiter = nil
	m.mu.Unlock()

	m.log.With(logger.Fields{"module": "mqtt"}).Errorf("MQTT connection to %s failed: %v", m.transport.Broker(), err)
	if waiter != nil {
		waiter <- &ConnectionError{Broker: m.transport.Broker(), Err: err}
	}
}

// OnClose handles an orderly close. Only a live connection moves to Disconnected.
func (m *Manager) OnClose() {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	m.mu.Lock()
	if m.state == StateConnected {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	m.log.With(logger.Fields{"module": "mqtt"}).Info("MQTT connection closed")
}

// OnMessage forwards an inbound message to the router unchanged.
func (m *Manager) OnMessage(topic string, payload []byte) {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	res := m.router.Dispatch(topic, payload)
	if res.Invoked == 0 {
		m.misses.Add(1)
		return
	}
	m.dispatched.Add(1)
	m.failures.Add(uint64(res.Failed))
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.qMu.Lock()
	queued := len(m.queue)
	m.qMu.Unlock()

	return Stats{
		State:      m.State().String(),
		Topics:     len(m.router.Topics()),
		Dispatched: m.dispatched.Load(),
		Misses:     m.misses.Load(),
		Failures:   m.failures.Load(),
		Published:  m.published.Load(),
		Queued:     queued,
		Rejected:   m.rejected.Load(),
	}
}
