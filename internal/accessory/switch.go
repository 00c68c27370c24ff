package accessory

import (
	"sync/atomic"

	"mqttbridge/internal/homeintegration"
	"mqttbridge/internal/logger"
)

const (
	manufacturer = "Longka-Home"
	switchModel  = "Longka-Home-Switch"
)

// Switch binds one on/off node to its MQTT topics. The cached state is written
// only by the state topic callback. A retired Switch ignores further state.
type Switch struct {
	log     logger.Logger
	conn    Connection
	uuid    string
	node    homeintegration.NodeConfig
	on      atomic.Bool
	retired atomic.Bool
}

// NewSwitch subscribes to the node's state topic and returns the binding.
func NewSwitch(log logger.Logger, conn Connection, uuid string, node homeintegration.NodeConfig) *Switch {
	s := &Switch{
		log:  log,
		conn: conn,
		uuid: uuid,
		node: node,
	}
	s.listenState()
	return s
}

func (s *Switch) listenState() {
	if !s.conn.Subscribe(s.node.StateTopic, s.onState) {
		s.log.With(logger.Fields{"module": "accessory", "name": s.node.Name}).Warn("state topic not subscribed, state will stay off")
	}
}

// onState: "1" is on, anything else is off.
func (s *Switch) onState(payload []byte) error {
	if s.retired.Load() {
		return nil
	}
	on := string(payload) == "1"
	s.on.Store(on)
	s.log.With(logger.Fields{"module": "accessory", "name": s.node.Name}).Debugf("state -> %t", on)
	return nil
}

// SetOn publishes the command for the requested value. It does not wait for the
// state topic to confirm it.
func (s *Switch) SetOn(on bool) error {
	topic := s.node.OffTopic
	if on {
		topic = s.node.OnTopic
	}
	s.log.With(logger.Fields{"module": "accessory", "name": s.node.Name}).Debugf("set on -> %t", on)
	return s.conn.Publish(topic, struct{}{})
}

// retire detaches the Switch from its state topic. The router has no
// unsubscribe, so the callback stays registered and becomes a no-op.
func (s *Switch) retire() {
	s.retired.Store(true)
}

// sameBinding reports whether node would bind to the same topics under the same name.
func (s *Switch) sameBinding(node homeintegration.NodeConfig) bool {
	return s.node.Name == node.Name &&
		s.node.StateTopic == node.StateTopic &&
		s.node.OnTopic == node.OnTopic &&
		s.node.OffTopic == node.OffTopic
}

// On returns the last state received.
func (s *Switch) On() bool {
	return s.on.Load()
}

func (s *Switch) UUID() string {
	return s.uuid
}

func (s *Switch) Info() Info {
	return Info{
		Manufacturer: manufacturer,
		Model:        switchModel,
		SerialNumber: s.node.UUID,
	}
}

func (s *Switch) Snapshot() Snapshot {
	return Snapshot{
		UUID:       s.uuid,
		Name:       s.node.Name,
		Type:       s.node.Type,
		On:         s.On(),
		StateTopic: s.node.StateTopic,
		OnTopic:    s.node.OnTopic,
		OffTopic:   s.node.OffTopic,
		Info:       s.Info(),
	}
}
