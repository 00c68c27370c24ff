package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"mqttbridge/internal/config"
	"mqttbridge/internal/logger"
	"github.com/grandcat/zeroconf"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when no instance answered before the lookup timed out.
var ErrNotFound = errors.New("service not found")

// Endpoint is the address a service instance announces.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// LookupFunc resolves a single service instance.
type LookupFunc func(ctx context.Context, instance, service, domain string) (Endpoint, error)

// Resolver fills in the broker and hub endpoints left empty in the configuration.
type Resolver struct {
	log    logger.Logger
	cfg    config.MDNSConf
	lookup LookupFunc
}

// NewResolver конструктор.
func NewResolver(log logger.Logger, cfg config.MDNSConf) *Resolver {
	return &Resolver{
		log:    log,
		cfg:    cfg,
		lookup: Lookup,
	}
}

// Apply looks up the broker when mqtt.server is empty and the hub API when
// integration.api is empty. Both lookups run concurrently.
func (r *Resolver) Apply(ctx context.Context, cfg *config.Config) error {
	if !r.cfg.Enabled {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MQTT.Host == "" {
		g.Go(func() error {
			ep, err := r.resolve(ctx, r.cfg.MQTTInstance, r.cfg.MQTTService)
			if err != nil {
				return fmt.Errorf("mqtt broker: %w", err)
			}
			cfg.MQTT.Host, cfg.MQTT.Port = ep.Host, ep.Port
			return nil
		})
	}
	if cfg.Integration.API == "" {
		g.Go(func() error {
			ep, err := r.resolve(ctx, r.cfg.APIInstance, r.cfg.APIService)
			if err != nil {
				return fmt.Errorf("integration api: %w", err)
			}
			cfg.Integration.API = "http://" + ep.String()
			return nil
		})
	}
	return g.Wait()
}

func (r *Resolver) resolve(ctx context.Context, instance, service string) (Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Timeout)*time.Second)
	defer cancel()

	log := r.log.With(logger.Fields{"module": "mdns", "service": service})
	log.Infof("mDNS looking for %s.%s%s", instance, service, r.cfg.Domain)
	ep, err := r.lookup(ctx, instance, service, r.cfg.Domain)
	if err != nil {
		return Endpoint{}, err
	}
	log.Infof("service found: %s at %s", instance, ep)
	return ep, nil
}

// Lookup resolves instance over multicast DNS and returns the first usable answer.
func Lookup(ctx context.Context, instance, service, domain string) (Endpoint, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return Endpoint{}, fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Lookup(ctx, instance, service, domain, entries); err != nil {
		return Endpoint{}, fmt.Errorf("mdns lookup %s: %w", instance, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, fmt.Errorf("%s.%s.%s: %w", instance, service, domain, ErrNotFound)
			}
			if ep, ok := endpoint(entry); ok {
				return ep, nil
			}
		case <-ctx.Done():
			return Endpoint{}, fmt.Errorf("%s.%s.%s: %w", instance, service, domain, ErrNotFound)
		}
	}
}

// endpoint prefers an announced IPv4 address, then IPv6, then the host name.
func endpoint(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry == nil || entry.Port <= 0 {
		return Endpoint{}, false
	}
	switch {
	case len(entry.AddrIPv4) > 0:
		return Endpoint{Host: entry.AddrIPv4[0].String(), Port: entry.Port}, true
	case len(entry.AddrIPv6) > 0:
		return Endpoint{Host: entry.AddrIPv6[0].String(), Port: entry.Port}, true
	case entry.HostName != "":
		return Endpoint{Host: strings.TrimSuffix(entry.HostName, "."), Port: entry.Port}, true
	}
	return Endpoint{}, false
}
