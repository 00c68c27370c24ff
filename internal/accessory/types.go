package accessory

import (
	"context"
	"errors"
	"time"

	"mqttbridge/internal/clientmqtt"
	"mqttbridge/internal/homeintegration"
)

// TypeSwitch is the only node type bridged so far.
const TypeSwitch = "SWITCH"

// ErrNotFound is returned for an accessory UUID the platform does not know.
var ErrNotFound = errors.New("accessory not found")

// Connection is what a binding needs from the broker connection.
type Connection interface {
	Subscribe(topic string, cb clientmqtt.Callback) bool
	Publish(topic string, payload interface{}) error
}

// Discoverer loads the hub's node list. It never fails; an empty list means nothing to bind.
type Discoverer interface {
	GetNodes(ctx context.Context) []homeintegration.NodeConfig
}

// Info is the accessory information service.
type Info struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serialNumber"`
}

// Snapshot is a point in time view of a bound accessory.
type Snapshot struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	On         bool   `json:"on"`
	StateTopic string `json:"stateTopic"`
	OnTopic    string `json:"onTopic"`
	OffTopic   string `json:"offTopic"`
	Info       Info   `json:"info"`
}

// CachedAccessory is what survives a restart.
type CachedAccessory struct {
	UUID     string                     `json:"uuid"`
	Name     string                     `json:"name"`
	Node     homeintegration.NodeConfig `json:"node"`
	LastSeen time.Time                  `json:"lastSeen"`
}
