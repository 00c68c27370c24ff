package clientmqtt

import (
	"fmt"
	"sync"
	"time"

	"mqttbridge/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// paho's loggers are package globals, set by the first transport to connect.
var pahoLogOnce sync.Once

func routePahoLogs(log logger.Logger) {
	pahoLogOnce.Do(func() {
		pahoLog := log.With(logger.Fields{"module": "paho"})
		mqtt.ERROR = logger.NewPrinter(pahoLog, logrus.ErrorLevel)
		mqtt.CRITICAL = logger.NewPrinter(pahoLog, logrus.ErrorLevel)
		mqtt.WARN = logger.NewPrinter(pahoLog, logrus.WarnLevel)
		if log.GetLevel() == "debug" {
			mqtt.DEBUG = logger.NewPrinter(pahoLog, logrus.DebugLevel)
		}
	})
}

// PahoTransport is the Transport backed by the Eclipse Paho client.
type PahoTransport struct {
	log logger.Logger
	cfg MQTTConf

	mu            sync.Mutex
	client        mqtt.Client
	handler       EventHandler
	subs          map[string]subscription
	connectedOnce bool

	done     chan struct{}
	stopOnce sync.Once
}

type subscription struct {
	qos byte
	ack func(error)
}

// NewPahoTransport конструктор.
func NewPahoTransport(log logger.Logger, cfg MQTTConf) *PahoTransport {
	return &PahoTransport{
		log:  log,
		cfg:  cfg,
		subs: map[string]subscription{},
		done: make(chan struct{}),
	}
}

func (t *PahoTransport) Broker() string {
	return fmt.Sprintf("%s://%s:%d", t.cfg.Schema, t.cfg.Host, t.cfg.Port)
}

// Connect builds the paho client and connects in the background. A failed first
// attempt is reported as an error event and retried after RetryInterval; once
// connected paho's own auto reconnect takes over.
func (t *PahoTransport) Connect(h EventHandler) {
	routePahoLogs(t.log)

	opts := mqtt.NewClientOptions().
		AddBroker(t.Broker()).
		SetUsername(t.cfg.User).
		SetPassword(t.cfg.Password).
		SetDefaultPublishHandler(t.messageHandler).
		SetOnConnectHandler(t.connectHandler).
		SetConnectionLostHandler(t.connectLostHandler).
		SetReconnectingHandler(t.reconnectingHandler).
		SetClientID(t.cfg.ClientID).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false)
	if t.cfg.RetryInterval > 0 {
		opts.SetMaxReconnectInterval(t.cfg.RetryInterval)
	}
	if t.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(t.cfg.KeepAlive)
	}

	client := mqtt.NewClient(opts)
	t.mu.Lock()
	t.client = client
	t.handler = h
	t.mu.Unlock()
	go t.connectLoop(client)
}

// current returns the client and handler set by Connect, nil before it.
func (t *PahoTransport) current() (mqtt.Client, EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client, t.handler
}

func (t *PahoTransport) connectLoop(client mqtt.Client) {
	for {
		token := client.Connect()
		select {
		case <-token.Done():
		case <-t.done:
			return
		}
		if token.Error() == nil || t.stopped() {
			return
		}

		t.handler.OnError(token.Error())

		if t.cfg.RetryInterval <= 0 {
			return
		}
		select {
		case <-time.After(t.cfg.RetryInterval):
		case <-t.done:
			return
		}
	}
}

// Disconnect stops reconnect attempts and closes the connection. A connect still
// in flight is aborted; paho returns once that attempt has finished.
func (t *PahoTransport) Disconnect() {
	t.stopOnce.Do(func() { close(t.done) })
	client, handler := t.current()
	if client != nil {
		client.Disconnect(500)
	}
	if handler != nil {
		handler.OnClose()
	}
}

// Publish sends without waiting; a failed delivery is only logged.
func (t *PahoTransport) Publish(topic string, qos byte, payload []byte) {
	client, _ := t.current()
	if client == nil {
		t.log.With(logger.Fields{"module": "mqtt"}).Errorf("publish to %s before connect", topic)
		return
	}
	token := client.Publish(topic, qos, false, payload)
	t.await(token, func(err error) {
		if err != nil {
			t.log.With(logger.Fields{"module": "mqtt"}).Errorf("error publish topic %s. %v", topic, err)
		}
	})
}

// Subscribe records the topic and subscribes now if connected. Recorded topics
// are subscribed on the first connect, and on every reconnect when Resubscribe is set.
func (t *PahoTransport) Subscribe(topic string, qos byte, ack func(error)) {
	t.mu.Lock()
	t.subs[topic] = subscription{qos: qos, ack: ack}
	client := t.client
	t.mu.Unlock()

	if client != nil && client.IsConnected() {
		t.sub(client, topic, qos, ack)
	}
}

func (t *PahoTransport) sub(client mqtt.Client, topic string, qos byte, ack func(error)) {
	// nil callback: deliveries go through the default publish handler
	token := client.Subscribe(topic, qos, nil)
	t.await(token, ack)
}

func (t *PahoTransport) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *PahoTransport) await(token mqtt.Token, fn func(error)) {
	go func() {
		select {
		case <-t.done:
			return
		case <-token.Done():
		}
		if fn != nil {
			fn(token.Error())
		}
	}()
}

func (t *PahoTransport) connectHandler(client mqtt.Client) {
	if t.stopped() {
		t.log.With(logger.Fields{"module": "mqtt"}).Warn("connected after disconnect, closing")
		client.Disconnect(0)
		return
	}
	t.log.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")

	t.mu.Lock()
	handler := t.handler
	restore := !t.connectedOnce || t.cfg.Resubscribe
	t.connectedOnce = true
	subs := make(map[string]subscription, len(t.subs))
	for topic, s := range t.subs {
		subs[topic] = s
	}
	t.mu.Unlock()

	if restore {
		for topic, s := range subs {
			t.sub(client, topic, s.qos, s.ack)
		}
	}
	handler.OnConnect()
}

func (t *PahoTransport) connectLostHandler(_ mqtt.Client, err error) {
	if t.stopped() {
		return
	}
	t.log.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v", err)
	t.handler.OnError(err)
}

func (t *PahoTransport) reconnectingHandler(_ mqtt.Client, _ *mqtt.ClientOptions) {
	t.log.With(logger.Fields{"module": "mqtt"}).Info("reconnecting to server")
}

func (t *PahoTransport) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	t.handler.OnMessage(msg.Topic(), msg.Payload())
}
