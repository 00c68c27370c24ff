package accessory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"mqttbridge/internal/homeintegration"
	"mqttbridge/internal/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Platform turns the hub's node list into accessory bindings.
type Platform struct {
	log       logger.Logger
	conn      Connection
	discovery Discoverer
	cache     Cache
	interval  time.Duration

	mu       sync.RWMutex
	cached   map[string]CachedAccessory
	switches map[string]*Switch

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPlatform конструктор. interval 0 disables periodic resync.
func NewPlatform(log logger.Logger, conn Connection, discovery Discoverer, cache Cache, interval time.Duration) *Platform {
	return &Platform{
		log:       log,
		conn:      conn,
		discovery: discovery,
		cache:     cache,
		interval:  interval,
		cached:    map[string]CachedAccessory{},
		switches:  map[string]*Switch{},
	}
}

// AccessoryUUID derives the stable accessory UUID for a hub node uuid.
func AccessoryUUID(nodeUUID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(nodeUUID)).String()
}

// Start restores cached accessories, then syncs with the hub now and every interval.
func (p *Platform) Start(ctx context.Context) {
	p.restore(ctx)

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.ctx, p.cancel = ctx, cancel
	p.mu.Unlock()
	p.wg.Add(1)
	go p.syncBackground(ctx)
}

// Stop the Platform.
func (p *Platform) Stop() {
	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Platform) restore(ctx context.Context) {
	list, err := p.cache.Load(ctx)
	if err != nil {
		p.log.With(logger.Fields{"module": "platform"}).Errorf("failed to load accessory cache: %v", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, acc := range list {
		p.log.With(logger.Fields{"module": "platform"}).Infof("loading accessory from cache: %s", acc.Name)
		p.cached[acc.UUID] = acc
		if acc.Node.Type == TypeSwitch {
			p.switches[acc.UUID] = NewSwitch(p.log, p.conn, acc.UUID, acc.Node)
		}
	}
}

func (p *Platform) syncBackground(ctx context.Context) {
	defer p.wg.Done()

	if _, err := p.Sync(ctx); err != nil {
		p.log.With(logger.Fields{"module": "platform"}).Errorf("sync failed: %v", err)
	}
	if p.interval <= 0 {
		return
	}

	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.Sync(ctx); err != nil {
				p.log.With(logger.Fields{"module": "platform"}).Errorf("sync failed: %v", err)
			}
		}
	}
}

// Sync loads the node list, binds new switches and rebinds those whose topics
// changed. It returns the number of bound accessories. Concurrent calls share one
// run, which is not cancelled when a single caller gives up waiting.
func (p *Platform) Sync(ctx context.Context) (int, error) {
	ch := p.group.DoChan("sync", func() (interface{}, error) {
		return p.sync(p.runContext(ctx))
	})
	select {
	case res := <-ch:
		return res.Val.(int), res.Err
	case <-ctx.Done():
		return p.count(), ctx.Err()
	}
}

// runContext is the context a shared sync runs under: the platform's own while
// started, otherwise the caller's values without its cancellation.
func (p *Platform) runContext(ctx context.Context) context.Context {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ctx != nil {
		return p.ctx
	}
	return context.WithoutCancel(ctx)
}

func (p *Platform) sync(ctx context.Context) (int, error) {
	nodes := p.discovery.GetNodes(ctx)
	if len(nodes) == 0 {
		p.log.With(logger.Fields{"module": "platform"}).Error("no node config from remote server")
		return p.count(), nil
	}

	var errs []error
	for _, node := range nodes {
		if node.Type != TypeSwitch {
			p.log.With(logger.Fields{"module": "platform"}).Debugf("skipping node %s of type %s", node.Name, node.Type)
			continue
		}
		if err := p.bind(ctx, node); err != nil {
			errs = append(errs, err)
		}
	}
	p.log.With(logger.Fields{"module": "platform"}).Infof("discovered %d nodes, %d accessories bound", len(nodes), p.count())
	return p.count(), errors.Join(errs...)
}

func (p *Platform) bind(ctx context.Context, node homeintegration.NodeConfig) error {
	id := AccessoryUUID(node.UUID)
	log := p.log.With(logger.Fields{"module": "platform"})

	p.mu.Lock()
	_, known := p.cached[id]
	current, bound := p.switches[id]
	if known {
		log.Infof("restoring existing accessory from cache: %s", node.Name)
	} else {
		log.Infof("adding new accessory: %s", node.Name)
	}
	acc := CachedAccessory{UUID: id, Name: node.Name, Node: node, LastSeen: time.Now().UTC()}
	p.cached[id] = acc
	switch {
	case !bound:
		p.switches[id] = NewSwitch(p.log, p.conn, id, node)
	case !current.sameBinding(node):
		log.Infof("rebinding accessory %s: state %s -> %s", node.Name, current.node.StateTopic, node.StateTopic)
		current.retire()
		next := NewSwitch(p.log, p.conn, id, node)
		if current.node.StateTopic == node.StateTopic {
			next.on.Store(current.On())
		}
		p.switches[id] = next
	}
	p.mu.Unlock()

	if err := p.cache.Save(ctx, acc); err != nil {
		return fmt.Errorf("cache accessory %s: %w", node.Name, err)
	}
	return nil
}

func (p *Platform) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.switches)
}

// Accessories returns every bound accessory, sorted by name.
func (p *Platform) Accessories() []Snapshot {
	p.mu.RLock()
	out := make([]Snapshot, 0, len(p.switches))
	for _, s := range p.switches {
		out = append(out, s.Snapshot())
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].UUID < out[j].UUID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (p *Platform) Accessory(id string) (Snapshot, error) {
	s, err := p.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// SetOn sends the on/off command of an accessory.
func (p *Platform) SetOn(id string, on bool) error {
	s, err := p.lookup(id)
	if err != nil {
		return err
	}
	return s.SetOn(on)
}

func (p *Platform) lookup(id string) (*Switch, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.switches[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return s, nil
}
