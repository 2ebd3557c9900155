// Package request turns overlay request descriptors into running pipelines:
// listeners feeding correlation operators, a topology manager and a committer
// writing the overlay.
package request

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/agentic-research/topoproc/api"
	"github.com/agentic-research/topoproc/internal/committer"
	"github.com/agentic-research/topoproc/internal/copier"
	"github.com/agentic-research/topoproc/internal/correlate"
	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/filter"
	"github.com/agentic-research/topoproc/internal/listener"
	"github.com/agentic-research/topoproc/internal/model"
	"github.com/agentic-research/topoproc/internal/schema"
	"github.com/agentic-research/topoproc/internal/topology"
)

var (
	// ErrInvalidRequest reports a descriptor that cannot be set up.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDuplicate reports a request id that is already running.
	ErrDuplicate = errors.New("request already running")
	// ErrUnknown reports a Stop for an id that is not running.
	ErrUnknown = errors.New("no such request")
)

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Translator    *schema.Translator
	QueueCapacity int
	MaxBatch      int
	Logger        *zap.Logger
}

// Manager runs overlay requests and copies against a set of stores, one per
// datastore type.
type Manager struct {
	stores     map[datastore.Type]datastore.Store
	translator *schema.Translator
	opts       Options
	logger     *zap.Logger

	mu      sync.Mutex
	running map[string]*pipeline
}

// pipeline is everything one started request owns.
type pipeline struct {
	cancel    context.CancelFunc
	closers   []func() // run in reverse order by close
	committer *committer.Committer
	overlay   *correlate.Overlay
	topology  *topology.Manager
}

func (p *pipeline) close() {
	p.cancel()
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// NewManager creates a Manager over stores.
func NewManager(stores []datastore.Store, opts Options) *Manager {
	if opts.Translator == nil {
		opts.Translator = schema.NewTranslator(schema.DefaultRegistry())
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		stores:     make(map[datastore.Type]datastore.Store, len(stores)),
		translator: opts.Translator,
		opts:       opts,
		logger:     logger.Named("request"),
		running:    make(map[string]*pipeline),
	}
	for _, s := range stores {
		m.stores[s.Type()] = s
	}
	return m
}

// Start validates req and starts its pipeline. When any step fails, whatever
// was already started is torn down and the error is returned.
func (m *Manager) Start(ctx context.Context, req api.Request) error {
	if req.Overlay == "" {
		return fmt.Errorf("%w: overlay id is required", ErrInvalidRequest)
	}
	if len(req.Correlations) == 0 {
		return fmt.Errorf("%w: %s: no correlations", ErrInvalidRequest, req.Overlay)
	}
	store, err := m.store(req.Datastore)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRequest, req.Overlay, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[req.Overlay]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, req.Overlay)
	}

	overlay := correlate.NewOverlay(req.Overlay)
	logger := m.logger.With(zap.String("overlay", req.Overlay))

	// Validate every correlation before anything is registered.
	configs := make([]correlate.Config, 0, len(req.Correlations))
	for _, c := range req.Correlations {
		cfg, err := m.correlation(c)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRequest, req.Overlay, err)
		}
		configs = append(configs, cfg)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p := &pipeline{cancel: cancel, overlay: overlay}
	p.committer = committer.New(store, committer.Options{
		QueueCapacity: m.opts.QueueCapacity,
		MaxBatch:      m.opts.MaxBatch,
		Logger:        logger,
	})
	p.closers = append(p.closers, p.committer.Close)
	p.topology = topology.NewManager(overlay, p.committer, logger)

	for _, cfg := range configs {
		op, err := correlate.NewOperator(overlay, cfg, p.topology, logger)
		if err != nil {
			p.close()
			return fmt.Errorf("%w: %s: %v", ErrInvalidRequest, req.Overlay, err)
		}
		for _, topo := range cfg.Topologies {
			if err := ctx.Err(); err != nil {
				p.close()
				return err
			}
			l, err := listener.Register(runCtx, store, topo, op, logger)
			if err != nil {
				p.close()
				return fmt.Errorf("start %s: %w", req.Overlay, err)
			}
			p.closers = append(p.closers, l.Close)
		}
	}

	m.running[req.Overlay] = p
	logger.Info("Request started", zap.Int("correlations", len(configs)), zap.String("store", string(store.Type())))
	return nil
}

// StartCopy starts a 1:1 copy of c.Source into c.Target. The copy runs
// under the id copy:<target>/<kind>.
func (m *Manager) StartCopy(ctx context.Context, c api.Copy) error {
	if c.Source == "" || c.Target == "" {
		return fmt.Errorf("%w: copy needs source and target", ErrInvalidRequest)
	}
	kind, err := model.ParseItemKind(c.Kind)
	if err != nil {
		return fmt.Errorf("%w: copy %s: %v", ErrInvalidRequest, c.Source, err)
	}
	store, err := m.store(c.Datastore)
	if err != nil {
		return fmt.Errorf("%w: copy %s: %v", ErrInvalidRequest, c.Source, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := copyID(c.Target, kind)
	if _, ok := m.running[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	logger := m.logger.With(zap.String("copy", id))
	runCtx, cancel := context.WithCancel(context.Background())
	p := &pipeline{cancel: cancel}
	p.committer = committer.New(store, committer.Options{
		QueueCapacity: m.opts.QueueCapacity,
		MaxBatch:      m.opts.MaxBatch,
		Logger:        logger,
	})
	p.closers = append(p.closers, p.committer.Close)

	cp, err := copier.Start(runCtx, store, c.Source, c.Target, kind, p.committer, logger)
	if err != nil {
		p.close()
		return fmt.Errorf("start copy %s: %w", id, err)
	}
	p.closers = append(p.closers, cp.Close)

	m.running[id] = p
	logger.Info("Copy started")
	return nil
}

func copyID(target string, kind model.ItemKind) string {
	return "copy:" + target + "/" + kind.String()
}

// Stop stops the request (or copy) with the given id: listeners first, then
// the committer. Writes still queued are discarded.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	p, ok := m.running[id]
	delete(m.running, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	p.close()
	m.logger.Info("Request stopped", zap.String("id", id))
	return nil
}

// Close stops everything that is running.
func (m *Manager) Close() {
	for _, id := range m.Running() {
		_ = m.Stop(id)
	}
}

// Running returns the ids of the running requests and copies, sorted.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns the committer counters of a running request.
func (m *Manager) Stats(id string) (committer.Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.running[id]
	if !ok {
		return committer.Stats{}, false
	}
	return p.committer.Stats(), true
}

// Wrappers returns the ids of the current overlay wrappers of a running
// request, in creation order.
func (m *Manager) Wrappers(id string) ([]string, bool) {
	m.mu.Lock()
	p, ok := m.running[id]
	m.mu.Unlock()
	if !ok || p.topology == nil {
		return nil, false
	}
	var ids []string
	p.overlay.Update(context.Background(), func(txn *correlate.Txn) {
		for _, w := range p.topology.Wrappers(txn) {
			ids = append(ids, w.ID)
		}
	})
	return ids, true
}

func (m *Manager) store(name string) (datastore.Store, error) {
	typ, err := datastore.ParseType(name)
	if err != nil {
		return nil, err
	}
	s, ok := m.stores[typ]
	if !ok {
		return nil, fmt.Errorf("no %s datastore", typ)
	}
	return s, nil
}

// correlation converts one descriptor into an operator configuration,
// resolving every field path and building every filter.
func (m *Manager) correlation(c api.Correlation) (correlate.Config, error) {
	kind, err := model.ParseItemKind(c.Kind)
	if err != nil {
		return correlate.Config{}, fmt.Errorf("correlation %q: %w", c.Name, err)
	}
	agg, err := correlate.ParseAggregationType(c.Aggregation)
	if err != nil {
		return correlate.Config{}, fmt.Errorf("correlation %q: %w", c.Name, err)
	}
	if len(c.Underlays) == 0 {
		return correlate.Config{}, fmt.Errorf("correlation %q: no underlay topologies", c.Name)
	}

	cfg := correlate.Config{
		Name:        c.Name,
		Kind:        kind,
		Aggregation: agg,
		Fields:      make(map[string]*schema.Accessor),
		Mapping:     make(map[string]map[string]string),
		Filters:     make(map[string]filter.Chain),
	}
	if cfg.Filters[""], err = m.chain(c.Filters, kind); err != nil {
		return correlate.Config{}, fmt.Errorf("correlation %q: %w", c.Name, err)
	}

	seen := make(map[string]bool, len(c.Underlays))
	for _, u := range c.Underlays {
		if u.Topology == "" {
			return correlate.Config{}, fmt.Errorf("correlation %q: underlay without topology", c.Name)
		}
		if seen[u.Topology] {
			return correlate.Config{}, fmt.Errorf("correlation %q: underlay %q declared twice", c.Name, u.Topology)
		}
		seen[u.Topology] = true
		cfg.Topologies = append(cfg.Topologies, u.Topology)

		switch agg {
		case correlate.Equality:
			if u.Field == "" {
				return correlate.Config{}, fmt.Errorf("correlation %q: underlay %q: equality needs a field", c.Name, u.Topology)
			}
			acc, err := m.translator.Resolve(u.Field, kind)
			if err != nil {
				return correlate.Config{}, fmt.Errorf("correlation %q: underlay %q: %w", c.Name, u.Topology, err)
			}
			cfg.Fields[u.Topology] = acc
		case correlate.Unification:
			if len(u.Mapping) == 0 {
				return correlate.Config{}, fmt.Errorf("correlation %q: underlay %q: unification needs a mapping", c.Name, u.Topology)
			}
			cfg.Mapping[u.Topology] = u.Mapping
		}

		if cfg.Filters[u.Topology], err = m.chain(u.Filters, kind); err != nil {
			return correlate.Config{}, fmt.Errorf("correlation %q: underlay %q: %w", c.Name, u.Topology, err)
		}
	}
	if agg == correlate.None && len(c.Filters) == 0 && !anyFilters(c.Underlays) {
		return correlate.Config{}, fmt.Errorf("correlation %q: filtration needs at least one filter", c.Name)
	}
	return cfg, nil
}

func (m *Manager) chain(filters []api.Filter, kind model.ItemKind) (filter.Chain, error) {
	var chain filter.Chain
	for _, f := range filters {
		acc, err := m.translator.Resolve(f.Field, kind)
		if err != nil {
			return nil, err
		}
		flt, err := filter.New(filter.Kind(f.Kind), acc, filter.Params{
			Value:  f.Value,
			Min:    f.Min,
			Max:    f.Max,
			Prefix: f.Prefix,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, flt)
	}
	return chain, nil
}

func anyFilters(us []api.Underlay) bool {
	for _, u := range us {
		if len(u.Filters) > 0 {
			return true
		}
	}
	return false
}
