package homeintegration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mqttbridge/internal/logger"
)

const syncNodesPath = "/bridge/sync-nodes"

// ErrUnsuccessful is the cause of a DiscoveryError when the envelope reports success=false.
var ErrUnsuccessful = errors.New("envelope reports failure")

// Envelope is the JSON wrapper every hub API response comes in.
type Envelope[T any] struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Data    T               `json:"data"`
}

// NodeConfig is one controllable node of a hub device.
type NodeConfig struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	ID         int    `json:"id"`
	UUID       string `json:"uuid"`
	OnTopic    string `json:"onTopic"`
	OffTopic   string `json:"offTopic"`
	StateTopic string `json:"stateTopic"`
	State      bool   `json:"state"`
}

// DiscoveryError describes why a node list could not be loaded.
type DiscoveryError struct {
	Op     string // request, status, decode or envelope
	Status int
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sync nodes %s (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("sync nodes %s: %v", e.Op, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Client talks to the hub's discovery API.
type Client struct {
	log        logger.Logger
	base       string
	token      string
	httpClient *http.Client
}

// NewClient конструктор. api is the base URL, e.g. http://hub.local:8080.
func NewClient(log logger.Logger, api, token string, timeout time.Duration) *Client {
	log.With(logger.Fields{"module": "integration"}).Infof("created home integration api: %s", api)
	return &Client{
		log:        log,
		base:       strings.TrimRight(api, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetNodes returns the hub's node list. Failures are logged and produce an empty list.
func (c *Client) GetNodes(ctx context.Context) []NodeConfig {
	nodes, err := c.FetchNodes(ctx)
	if err != nil {
		c.log.With(logger.Fields{"module": "integration"}).Errorf("failed to load node list: %v", err)
		return []NodeConfig{}
	}
	return nodes
}

// FetchNodes is GetNodes with the failure returned as a *DiscoveryError.
func (c *Client) FetchNodes(ctx context.Context) ([]NodeConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nodesURL(), nil)
	if err != nil {
		return nil, &DiscoveryError{Op: "request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &DiscoveryError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &DiscoveryError{Op: "status", Status: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body)))}
	}

	var env Envelope[[]NodeConfig]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &DiscoveryError{Op: "decode", Status: resp.StatusCode, Err: err}
	}
	if !env.Success {
		return nil, &DiscoveryError{Op: "envelope", Status: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrUnsuccessful, env.Message)}
	}
	if env.Data == nil {
		return []NodeConfig{}, nil
	}

	c.log.With(logger.Fields{"module": "integration"}).Debugf("loaded %d nodes", len(env.Data))
	return env.Data, nil
}

func (c *Client) nodesURL() string {
	return c.base + syncNodesPath + "?token=" + url.QueryEscape(c.token)
}
