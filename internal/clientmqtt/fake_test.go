package clientmqtt

import (
	"sync"
	"testing"

	"mqttbridge/internal/logger"
	"github.com/sirupsen/logrus/hooks/test"
)

type published struct {
	topic   string
	payload string
}

// fakeTransport records calls and lets tests fire transport events by hand.
type fakeTransport struct {
	mu         sync.Mutex
	handler    EventHandler
	published  []published
	subscribed []string
	acks       map[string]func(error)
	onConnect  func(h EventHandler)
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{acks: map[string]func(error){}}
}

func (f *fakeTransport) Connect(h EventHandler) {
	f.mu.Lock()
	f.handler = h
	hook := f.onConnect
	f.mu.Unlock()
	if hook != nil {
		hook(h)
	}
}

func (f *fakeTransport) Publish(topic string, _ byte, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, payload: string(payload)})
}

func (f *fakeTransport) Subscribe(topic string, _ byte, ack func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	f.acks[topic] = ack
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTransport) Broker() string { return "tcp://fake:1883" }

func (f *fakeTransport) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func (f *fakeTransport) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func newTestManager(t *testing.T, cfg MQTTConf) (*Manager, *fakeTransport, *test.Hook) {
	t.Helper()
	base, hook := test.NewNullLogger()
	tr := newFakeTransport()
	return NewManager(logger.Wrap(base), cfg, tr), tr, hook
}

func queueConf() MQTTConf {
	return MQTTConf{ClientID: "test", Policy: PolicyQueue, QueueSize: 4}
}
