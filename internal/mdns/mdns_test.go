package mdns

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"mqttbridge/internal/config"
	"mqttbridge/internal/logger"
	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupCall struct {
	instance string
	service  string
	domain   string
}

// stubLookup answers from a table keyed by instance name.
type stubLookup struct {
	mu        sync.Mutex
	endpoints map[string]Endpoint
	calls     []lookupCall
}

func (s *stubLookup) lookup(_ context.Context, instance, service, domain string) (Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, lookupCall{instance, service, domain})
	ep, ok := s.endpoints[instance]
	if !ok {
		return Endpoint{}, ErrNotFound
	}
	return ep, nil
}

func newTestResolver(t *testing.T, stub *stubLookup) *Resolver {
	t.Helper()
	base, _ := test.NewNullLogger()
	cfg := config.Default().MDNS
	cfg.Enabled = true
	r := NewResolver(logger.Wrap(base), cfg)
	r.lookup = stub.lookup
	return r
}

func TestApplyFillsEmptyEndpoints(t *testing.T) {
	stub := &stubLookup{endpoints: map[string]Endpoint{
		"mqtt-service":     {Host: "192.168.1.20", Port: 1883},
		"register-service": {Host: "192.168.1.21", Port: 8080},
	}}
	cfg := config.Default()

	require.NoError(t, newTestResolver(t, stub).Apply(context.Background(), &cfg))

	assert.Equal(t, "192.168.1.20", cfg.MQTT.Host)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "http://192.168.1.21:8080", cfg.Integration.API)
	assert.ElementsMatch(t, []lookupCall{
		{"mqtt-service", "_mqtt._tcp", "local."},
		{"register-service", "_http._tcp", "local."},
	}, stub.calls)
}

func TestApplyKeepsConfiguredEndpoints(t *testing.T) {
	stub := &stubLookup{endpoints: map[string]Endpoint{
		"register-service": {Host: "fe80::1", Port: 8080},
	}}
	cfg := config.Default()
	cfg.MQTT.Host = "broker.lan"
	cfg.MQTT.Port = 1884

	require.NoError(t, newTestResolver(t, stub).Apply(context.Background(), &cfg))

	assert.Equal(t, "broker.lan", cfg.MQTT.Host)
	assert.Equal(t, 1884, cfg.MQTT.Port)
	assert.Equal(t, "http://[fe80::1]:8080", cfg.Integration.API)
	assert.Len(t, stub.calls, 1)
}

func TestApplyNotFound(t *testing.T) {
	stub := &stubLookup{endpoints: map[string]Endpoint{
		"register-service": {Host: "192.168.1.21", Port: 8080},
	}}
	cfg := config.Default()

	err := newTestResolver(t, stub).Apply(context.Background(), &cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "mqtt broker")
}

func TestApplyDisabled(t *testing.T) {
	stub := &stubLookup{}
	r := newTestResolver(t, stub)
	r.cfg.Enabled = false
	cfg := config.Default()

	require.NoError(t, r.Apply(context.Background(), &cfg))
	assert.Empty(t, stub.calls)
	assert.Empty(t, cfg.MQTT.Host)
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
		want  Endpoint
		ok    bool
	}{
		{"nil", nil, Endpoint{}, false},
		{"ipv4 first", &zeroconf.ServiceEntry{
			HostName: "hub.local.", Port: 8080,
			AddrIPv4: []net.IP{net.ParseIP("10.0.0.3")},
			AddrIPv6: []net.IP{net.ParseIP("fe80::3")},
		}, Endpoint{Host: "10.0.0.3", Port: 8080}, true},
		{"ipv6 only", &zeroconf.ServiceEntry{
			Port: 1883, AddrIPv6: []net.IP{net.ParseIP("fe80::3")},
		}, Endpoint{Host: "fe80::3", Port: 1883}, true},
		{"host name only", &zeroconf.ServiceEntry{HostName: "hub.local.", Port: 80}, Endpoint{Host: "hub.local", Port: 80}, true},
		{"no port", &zeroconf.ServiceEntry{HostName: "hub.local."}, Endpoint{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := endpoint(tt.entry)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
