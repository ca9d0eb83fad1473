package provisioner

import (
	"log/slog"
)

// Core coordinates the Store, Notifier, DTRS, per-site IaaS drivers, and the
// context broker into the launch/query/terminate state machine. It holds no
// mutable state of its own beyond its injected collaborators: the Store is
// the only shared mutable resource, per the concurrency model.
type Core struct {
	store   Store
	notify  Notifier
	dtrs    DTRS
	broker  ContextBroker
	parser  ClusterDocumentParser
	drivers map[string]IaaSDriver
	runner  Runner
	events  EventSink
	logger  *slog.Logger
}

// Option configures a Core at construction time.
type Option func(*Core)

// WithEventSink overrides the default slog-based EventSink.
func WithEventSink(sink EventSink) Option {
	return func(c *Core) { c.events = sink }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) { c.logger = logger }
}

// New constructs a Core. drivers is the construction-time site->driver
// registry; credentials and endpoints are expected to already be baked into
// each driver and the dtrs/broker clients by the caller, per the
// injected-configuration design note.
func New(store Store, notify Notifier, dtrs DTRS, broker ContextBroker, parser ClusterDocumentParser, drivers map[string]IaaSDriver, runner Runner, opts ...Option) *Core {
	c := &Core{
		store:   store,
		notify:  notify,
		dtrs:    dtrs,
		broker:  broker,
		parser:  parser,
		drivers: drivers,
		runner:  runner,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.events == nil {
		c.events = NewSlogEventSink(c.logger)
	}
	return c
}

// driver looks up the IaaS driver for a site key.
func (c *Core) driver(site string) (IaaSDriver, bool) {
	d, ok := c.drivers[site]
	return d, ok
}

// Store exposes the injected Store for read-only callers (e.g. the HTTP
// layer's launch/node lookup endpoints) that have no other need of a Core.
func (c *Core) Store() Store {
	return c.store
}

// groupRecords performs a stable grouping of nodes by the given key
// function, matching the original core's group_records helper. Insertion
// order within each group is preserved; the map's key order is not, which is
// fine since callers always range over one group's slice at a time.
func groupRecords(nodes []NodeRecord, key func(NodeRecord) string) map[string][]NodeRecord {
	groups := make(map[string][]NodeRecord)
	for _, n := range nodes {
		k := key(n)
		groups[k] = append(groups[k], n)
	}
	return groups
}
