package homeintegration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mqttbridge/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *test.Hook) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	base, hook := test.NewNullLogger()
	c := NewClient(logger.Wrap(base), srv.URL+"/", "t0k&n", time.Second)
	hook.Reset()
	return c, hook
}

func TestGetNodes(t *testing.T) {
	c, hook := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bridge/sync-nodes", r.URL.Path)
		assert.Equal(t, "t0k&n", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"","error":null,"data":[
			{"uuid":"a","type":"SWITCH","stateTopic":"s1","onTopic":"o1","offTopic":"f1","name":"Lamp","id":7}
		]}`))
	})

	nodes := c.GetNodes(context.Background())

	require.Len(t, nodes, 1)
	assert.Equal(t, NodeConfig{
		Name: "Lamp", Type: "SWITCH", ID: 7, UUID: "a",
		OnTopic: "o1", OffTopic: "f1", StateTopic: "s1",
	}, nodes[0])
	assert.Empty(t, hook.Entries)
}

func TestGetNodesServerError(t *testing.T) {
	c, hook := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	})

	nodes := c.GetNodes(context.Background())

	assert.NotNil(t, nodes)
	assert.Empty(t, nodes)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	_, err := c.FetchNodes(context.Background())
	var derr *DiscoveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "status", derr.Op)
	assert.Equal(t, http.StatusInternalServerError, derr.Status)
}

func TestGetNodesUnsuccessfulEnvelope(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"bad token","error":{"code":401},"data":null}`))
	})

	assert.Empty(t, c.GetNodes(context.Background()))

	_, err := c.FetchNodes(context.Background())
	assert.True(t, errors.Is(err, ErrUnsuccessful))
	assert.Contains(t, err.Error(), "bad token")
}

func TestGetNodesBadJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := c.FetchNodes(context.Background())
	var derr *DiscoveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "decode", derr.Op)
	assert.Empty(t, c.GetNodes(context.Background()))
}

func TestGetNodesEmptyData(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":null}`))
	})

	nodes, err := c.FetchNodes(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, nodes)
	assert.Empty(t, nodes)
}

func TestGetNodesUnreachable(t *testing.T) {
	base, hook := test.NewNullLogger()
	c := NewClient(logger.Wrap(base), "http://127.0.0.1:1", "", 200*time.Millisecond)
	hook.Reset()

	assert.Empty(t, c.GetNodes(context.Background()))
	assert.Len(t, hook.Entries, 1)
}
