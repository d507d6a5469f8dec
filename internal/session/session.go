// Package session holds the state one simulated browser session resolves
// against. Every implementation call receives the session as its scope, so
// sessions never share mutable state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/collection"
	"github.com/xkilldash9x/hostenv/internal/envbuild"
	"github.com/xkilldash9x/hostenv/internal/envfuncs"
	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/profile"
	"github.com/xkilldash9x/hostenv/internal/registry"
	"github.com/xkilldash9x/hostenv/internal/resolve"
)

// ErrNotInitialized is returned when host objects are requested before Init.
var ErrNotInitialized = errors.New("session not initialized")

// Injectable is implemented by live host objects that accept properties
// declared under a site's _injections section.
type Injectable interface {
	Inject(prop string, value any) error
}

// Hosts binds variable names (window, document, navigator) to live host objects.
type Hosts map[string]any

// BundleCompiler turns a site implementation bundle into registry entries.
type BundleCompiler interface {
	Compile(name string, raw profile.Raw) (*registry.Registry, error)
}

// Session implements registry.Scope.
type Session struct {
	id          string
	table       envmodel.Table
	fingerprint envmodel.Fingerprint
	injections  envmodel.Injections
	registry    *registry.Registry
	engine      *resolve.Engine
	cache       *envmodel.Cache
	logger      *zap.Logger

	initialized bool
	hosts       map[string]any
	collection  *collection.Handler
}

var _ registry.Scope = (*Session)(nil)

// New creates a session from a built configuration. impls is cloned so
// bundles merged later never leak into other sessions; a nil impls starts
// from the generic implementation set.
func New(b *envbuild.Builder, impls *registry.Registry, logger *zap.Logger) (*Session, error) {
	table, err := b.Config()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	fp, err := b.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	inj, err := b.Injections()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if impls == nil {
		impls = envfuncs.Defaults()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	logger = logger.Named("session").With(zap.String("session_id", id))
	reg := impls.Clone()

	s := &Session{
		id:          id,
		table:       table,
		fingerprint: fp,
		injections:  inj,
		registry:    reg,
		engine:      resolve.New(table, reg, logger),
		cache:       envmodel.NewCache(),
		logger:      logger,
		hosts:       make(map[string]any),
	}
	logger.Info("Session created",
		zap.Int("classes", len(table)),
		zap.Int("implementations", reg.Len()),
		zap.String("user_agent", fp.String(envmodel.FPUserAgent)))
	return s, nil
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) Fingerprint() envmodel.Fingerprint { return s.fingerprint }
func (s *Session) Cache() *envmodel.Cache            { return s.cache }
func (s *Session) Logger() *zap.Logger               { return s.logger }
func (s *Session) Table() envmodel.Table             { return s.table }
func (s *Session) Registry() *registry.Registry      { return s.registry }
func (s *Session) Engine() *resolve.Engine           { return s.engine }

// Collection returns the document.all handler, or nil before SetCollection.
func (s *Session) Collection() *collection.Handler { return s.collection }

// SetCollection registers the document.all handler over src. It must run
// before any interception proxy is created around the host document.
func (s *Session) SetCollection(src collection.Source) *collection.Handler {
	s.collection = collection.New(src)
	return s.collection
}

// Dispatch forwards a document.all invocation to the registered handler.
func (s *Session) Dispatch(args ...any) (collection.Result, error) {
	if s.collection == nil {
		return collection.Result{}, ErrNotInitialized
	}
	return s.collection.Dispatch(args...), nil
}

// Init records the live host objects, each under its variable name and its
// class name, then applies every declared injection onto them. It must run
// before any script executes.
func (s *Session) Init(hosts Hosts) error {
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		obj := hosts[name]
		s.hosts[name] = obj
		if class := resolve.IdentityClass(obj); class != resolve.UnknownClass {
			s.hosts[string(class)] = obj
		}
	}

	applied, err := s.applyInjections()
	if err != nil {
		return err
	}
	s.initialized = true
	s.logger.Info("Session initialized",
		zap.Strings("hosts", names),
		zap.Int("injections", applied))
	return nil
}

func (s *Session) applyInjections() (int, error) {
	targets := make([]string, 0, len(s.injections))
	for t := range s.injections {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	applied := 0
	for _, target := range targets {
		host, ok := s.hosts[target]
		if !ok {
			s.logger.Warn("Skipping injections for unknown host", zap.String("host", target))
			continue
		}
		inj, ok := host.(Injectable)
		if !ok {
			s.logger.Warn("Host does not accept injections", zap.String("host", target))
			continue
		}

		props := make([]string, 0, len(s.injections[target]))
		for p := range s.injections[target] {
			props = append(props, p)
		}
		sort.Strings(props)
		for _, p := range props {
			if err := inj.Inject(p, s.injections[target][p].Resolve()); err != nil {
				return applied, fmt.Errorf("inject %s.%s: %w", target, p, err)
			}
			applied++
		}
	}
	return applied, nil
}

// Host returns the live host object recorded under name.
func (s *Session) Host(name string) (any, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	obj, ok := s.hosts[name]
	if !ok {
		return nil, fmt.Errorf("unknown host object %q", name)
	}
	return obj, nil
}

// ResolveGet is the read entry point called by the interception layer.
func (s *Session) ResolveGet(receiver, target any, prop string) *resolve.Result {
	return s.engine.ResolveGet(receiver, target, prop)
}

// ResolveSet is the write entry point called by the interception layer.
func (s *Session) ResolveSet(receiver, target any, prop string, value any) *resolve.Result {
	return s.engine.ResolveSet(receiver, target, prop, value)
}

// Invoke runs a resolved implementation within this session.
func (s *Session) Invoke(res *resolve.Result, args ...any) (any, error) {
	return res.Call(s, args...)
}

// LoadBundle merges a named site implementation bundle over the session's
// registry and returns the number of entries merged. An empty name or
// "default" is a no-op. A bundle that cannot be read or compiled is logged
// and skipped; the session keeps the implementations it already has.
func (s *Session) LoadBundle(ctx context.Context, store profile.Store, name string, c BundleCompiler) int {
	if name == "" || name == "default" {
		return 0
	}
	raw, err := store.Read(ctx, profile.LayerBundle, name)
	if err != nil {
		s.logger.Warn("Failed to load implementation bundle", zap.String("bundle", name), zap.Error(err))
		return 0
	}
	bundle, err := c.Compile(name, raw)
	if err != nil {
		s.logger.Warn("Failed to load implementation bundle", zap.String("bundle", name), zap.Error(err))
		return 0
	}
	n := s.registry.Merge(bundle)
	s.logger.Info("Implementation bundle loaded", zap.String("bundle", name), zap.Int("merged", n))
	return n
}
