package clientmqtt

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed matches every *ConnectionError.
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	// ErrNotConnected is returned by Publish under PolicyFail while the connection is not ready.
	ErrNotConnected = errors.New("mqtt: client not connected")
	// ErrQueueFull is returned by Publish under PolicyQueue when the queue is at capacity.
	ErrQueueFull = errors.New("mqtt: publish queue full")
	// ErrAlreadyStarted is returned by a second Connect call.
	ErrAlreadyStarted = errors.New("mqtt: connect already called")
	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)

// ConnectionError is the transport failure that rejected Connect.
type ConnectionError struct {
	Broker string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mqtt: failed to connect to %s: %v", e.Broker, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}
