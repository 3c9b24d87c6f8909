// Package core resolves OData (EDM) property paths to MongoDB field paths
// and builds aggregation pipelines from OData query options.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edmongo/edmongo/core/internal/edmpath"
	"github.com/edmongo/edmongo/core/internal/mapping"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// engine is one immutable generation of the engine state. A reload builds
// a new engine and swaps it in.
type engine struct {
	conf  *Config
	log   *zap.Logger
	fs    afero.Fs
	trace Tracer
	cache Cache

	// mappings added with OptionAddMapping
	inline map[string]*mapping.Entity

	entities map[string]*entity
}

// entity is a compiled mapping ready for resolution.
type entity struct {
	name     string
	hash     uint64
	resolver *edmpath.Resolver
}

// Engine is safe for concurrent use. Reloads never expose a partially
// built set of mappings.
type Engine struct {
	atomic.Value
	done      chan bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type Option func(*engine) error

// NewEngine loads and compiles every mapping in conf
func NewEngine(conf *Config, options ...Option) (g *Engine, err error) {
	if conf == nil {
		conf = &Config{}
	}
	if err = conf.Validate(); err != nil {
		return
	}

	e := &engine{
		conf:   conf,
		log:    zap.NewNop(),
		fs:     afero.NewOsFs(),
		trace:  &tracer{},
		inline: make(map[string]*mapping.Entity),
	}

	for _, op := range options {
		if err = op(e); err != nil {
			return
		}
	}

	if err = e.initCache(); err != nil {
		return
	}

	if e.entities, err = e.compileAll(); err != nil {
		return
	}

	g = &Engine{done: make(chan bool)}
	g.Store(e)

	if conf.WatchMappings {
		if err = g.initWatcher(); err != nil {
			return
		}
	}
	return
}

// OptionSetLogger sets the logger, the default discards everything
func OptionSetLogger(log *zap.Logger) Option {
	return func(e *engine) error {
		e.log = log
		return nil
	}
}

// OptionSetFS sets the file system mapping files are read from
func OptionSetFS(fs afero.Fs) Option {
	return func(e *engine) error {
		e.fs = fs
		return nil
	}
}

// OptionSetTrace sets the tracer
func OptionSetTrace(trace Tracer) Option {
	return func(e *engine) error {
		e.trace = trace
		return nil
	}
}

// OptionAddMapping registers a mapping that is not read from a file
func OptionAddMapping(name string, m *Mapping) Option {
	return func(e *engine) error {
		if name == "" {
			return fmt.Errorf("mapping name is required")
		}
		if _, ok := e.inline[name]; ok {
			return fmt.Errorf("duplicate mapping: %s", name)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mapping %s: %w", name, err)
		}
		e.inline[name] = m.Clone()
		return nil
	}
}

// compileAll loads every configured mapping and compiles those not in the
// cache yet.
func (e *engine) compileAll() (map[string]*entity, error) {
	out := make(map[string]*entity, len(e.conf.Mappings)+len(e.inline))

	for _, mc := range e.conf.Mappings {
		patches, err := mc.patchFiles()
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", mc.Name, err)
		}
		m, err := mapping.LoadPatched(e.fs, mc.File, patches)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", mc.Name, err)
		}
		if out[mc.Name], err = e.compile(mc.Name, m); err != nil {
			return nil, err
		}
	}

	for name, m := range e.inline {
		if _, ok := out[name]; ok {
			return nil, fmt.Errorf("duplicate mapping: %s", name)
		}
		ent, err := e.compile(name, m)
		if err != nil {
			return nil, err
		}
		out[name] = ent
	}
	return out, nil
}

func (e *engine) compile(name string, m *mapping.Entity) (*entity, error) {
	h, err := mapping.Hash(m, e.conf.LeavesOnly)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", name, err)
	}
	key := cacheKey(h)

	t, ok := e.cache.Get(key)
	if ok {
		e.log.Debug("compiled mapping from cache", zap.String("entity", name), zap.String("hash", key))
	} else {
		start := time.Now()
		t, err = edmpath.Compile(m, edmpath.CompileOptions{LeavesOnly: e.conf.LeavesOnly})
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", name, err)
		}
		e.cache.Set(key, t)

		e.log.Info("compiled mapping",
			zap.String("entity", name),
			zap.String("collection", t.Collection()),
			zap.Int("entries", t.Len()),
			zap.Duration("duration", time.Since(start)))
	}

	return &entity{name: name, hash: h, resolver: edmpath.NewResolver(t)}, nil
}

func (e *engine) entity(name string) (*entity, error) {
	ent, ok := e.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return ent, nil
}

func (e *engine) spanStart(c context.Context, name string) (context.Context, Spaner) {
	return e.trace.Start(c, name)
}

func (g *Engine) load() *engine {
	return g.Load().(*engine)
}

// Reload rereads and recompiles every mapping. On error the current
// mappings stay in place.
func (g *Engine) Reload() error {
	e := g.load()

	entities, err := e.compileAll()
	if err != nil {
		return err
	}

	next := *e
	next.entities = entities
	g.Store(&next)

	e.log.Info("mappings reloaded", zap.Int("entities", len(entities)))
	return nil
}

// Close stops the mapping watcher if one is running
func (g *Engine) Close() {
	g.closeOnce.Do(func() {
		close(g.done)
	})
	g.wg.Wait()
}

// Entities returns the names of all loaded entities
func (g *Engine) Entities() []string {
	e := g.load()
	names := make([]string, 0, len(e.entities))
	for n := range e.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Collection returns the collection an entity is stored in
func (g *Engine) Collection(name string) (string, error) {
	ent, err := g.load().entity(name)
	if err != nil {
		return "", err
	}
	return ent.resolver.Collection(), nil
}

// Entries returns the compiled table of an entity in logical path order
func (g *Engine) Entries(name string) ([]Entry, error) {
	ent, err := g.load().entity(name)
	if err != nil {
		return nil, err
	}
	return ent.resolver.Table().Entries(), nil
}
