package clientmqtt

import "time"

type MQTTConf struct {
	ClientID      string        // ClientID - уникальное имя клиента для брокеров.
	Schema        string        // Schema - тип подключения.
	Host          string        // Host - адрес MQTT сервера.
	Port          int           // Port - порт MQTT сервера.
	User          string        // User - логин для подключения к MQTT серверу.
	Password      string        // Password - пароль для подключения к MQTT серверу.
	Qos           byte          // Qos - качество обслуживания.
	Resubscribe   bool          // Resubscribe - восстанавливать подписки после переподключения.
	Policy        PublishPolicy // Policy - что делать с публикацией до подключения.
	QueueSize     int           // QueueSize - размер очереди публикаций.
	FlushRate     int           // FlushRate - сообщений в секунду при разборе очереди, 0 - без ограничения.
	RetryInterval time.Duration // RetryInterval - пауза между попытками первого подключения.
	KeepAlive     time.Duration
}

// PublishPolicy decides what Publish does while the connection is not ready.
type PublishPolicy int

const (
	// PolicyQueue keeps publishes in a bounded FIFO and flushes it on the next connect.
	PolicyQueue PublishPolicy = iota
	// PolicyFail rejects the publish with ErrNotConnected.
	PolicyFail
)

// ParsePolicy maps the configuration string onto a PublishPolicy.
func ParsePolicy(s string) (PublishPolicy, bool) {
	switch s {
	case "", "queue":
		return PolicyQueue, true
	case "fail":
		return PolicyFail, true
	}
	return PolicyQueue, false
}

func (p PublishPolicy) String() string {
	if p == PolicyFail {
		return "fail"
	}
	return "queue"
}

// State is the connection lifecycle as seen by the Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Callback receives the raw payload of a message on the topic it was registered for.
// A returned error is logged and does not affect other callbacks.
type Callback func(payload []byte) error

// Stats are counters kept by the Manager since it was created.
type Stats struct {
	State      string `json:"state"`
	Topics     int    `json:"topics"`
	Dispatched uint64 `json:"dispatched"`
	Misses     uint64 `json:"misses"`
	Failures   uint64 `json:"failures"`
	Published  uint64 `json:"published"`
	Queued     int    `json:"queued"`
	Rejected   uint64 `json:"rejected"`
}

type pending struct {
	topic   string
	payload []byte
}
