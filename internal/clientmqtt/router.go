package clientmqtt

import (
	"fmt"
	"sort"
	"sync"

	"mqttbridge/internal/logger"
)

// Router maps exact topic names onto the callbacks registered for them.
// Registrations are append only and live as long as the Router.
type Router struct {
	log    logger.Logger
	mu     sync.RWMutex
	topics map[string][]Callback
}

// DispatchResult reports what a single Dispatch did.
type DispatchResult struct {
	Invoked int // callbacks called
	Failed  int // callbacks that returned an error or panicked
}

// NewRouter конструктор.
func NewRouter(log logger.Logger) *Router {
	return &Router{
		log:    log,
		topics: map[string][]Callback{},
	}
}

// Subscribe appends cb to the topic's list and reports whether it is the first one.
func (r *Router) Subscribe(topic string, cb Callback) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	callbacks, ok := r.topics[topic]
	r.topics[topic] = append(callbacks, cb)
	return !ok
}

// Dispatch calls every callback for topic in registration order. A miss is logged
// once and the message dropped.
func (r *Router) Dispatch(topic string, payload []byte) DispatchResult {
	r.mu.RLock()
	callbacks := r.topics[topic]
	r.mu.RUnlock()

	if len(callbacks) == 0 {
		r.log.With(logger.Fields{"module": "mqtt", "topic": topic}).Warn("no subscriber for topic, message discarded")
		return DispatchResult{}
	}

	r.log.With(logger.Fields{"module": "mqtt"}).Debugf("calling back topic: %s with message: %s", topic, payload)

	var res DispatchResult
	for i, cb := range callbacks {
		res.Invoked++
		if err := r.invoke(cb, payload); err != nil {
			res.Failed++
			r.log.With(logger.Fields{"module": "mqtt", "topic": topic, "callback": i}).Errorf("subscriber failed: %v", err)
		}
	}
	return res
}

func (r *Router) invoke(cb Callback, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return cb(payload)
}

// Count returns the number of callbacks registered for topic.
func (r *Router) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Topics returns the registered topics, sorted.
func (r *Router) Topics() []string {
	r.mu.RLock()
	topics := make([]string, 0, len(r.topics))
	for t := range r.topics {
		topics = append(topics, t)
	}
	r.mu.RUnlock()
	sort.Strings(topics)
	return topics
}
