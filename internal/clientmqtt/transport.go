package clientmqtt

// EventHandler receives the transport's lifecycle and message events.
type EventHandler interface {
	OnConnect()
	OnError(err error)
	OnClose()
	OnMessage(topic string, payload []byte)
}

// Transport is the broker connection the Manager drives. None of its methods
// block on the network; outcomes arrive as events or through ack.
type Transport interface {
	// Connect starts connecting and reports the result through h.
	Connect(h EventHandler)
	Publish(topic string, qos byte, payload []byte)
	Subscribe(topic string, qos byte, ack func(err error))
	// Disconnect closes the connection and stops any reconnect attempts. It may
	// wait for a connect attempt already in flight to be aborted.
	Disconnect()
	Broker() string
}
