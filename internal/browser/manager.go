// Package browser assembles emulated pages: a layered configuration, a
// session, the goja host environment and its interception proxies.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/browser/intercept"
	"github.com/xkilldash9x/hostenv/internal/browser/jsbind"
	"github.com/xkilldash9x/hostenv/internal/browser/jsexec"
	"github.com/xkilldash9x/hostenv/internal/config"
	"github.com/xkilldash9x/hostenv/internal/envbuild"
	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/profile"
	"github.com/xkilldash9x/hostenv/internal/registry"
	"github.com/xkilldash9x/hostenv/internal/session"
)

// ErrShutdown is returned by NewPage once the manager is shutting down.
var ErrShutdown = errors.New("browser manager is shut down")

const blankDocument = "<html><head></head><body></body></html>"

// PageOptions selects the layers and document of a new page.
type PageOptions struct {
	Base    string
	Browser string
	Sites   []string
	Bundles []string

	URL     string
	HTML    string
	Timeout time.Duration

	// Implementations replaces the built-in implementation registry.
	Implementations *registry.Registry
}

// OptionsFromConfig derives page options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) PageOptions {
	return PageOptions{
		Base:    cfg.Profiles.Base,
		Browser: cfg.Profiles.Browser,
		Sites:   append([]string(nil), cfg.Profiles.Sites...),
		Bundles: append([]string(nil), cfg.Profiles.Bundles...),
		URL:     cfg.Session.URL,
		Timeout: cfg.Session.Timeout,
	}
}

// Manager creates isolated pages over one profile store and tracks them
// for shutdown.
type Manager struct {
	logger *zap.Logger
	store  profile.Store

	pages  map[string]*Page
	mu     sync.Mutex
	closed bool
}

// NewManager returns a manager reading layers from store.
func NewManager(store profile.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger.Named("browser_manager"),
		store:  store,
		pages:  make(map[string]*Page),
	}
}

// NewPage builds the configuration, initializes a session over a fresh
// runtime and loads the requested bundles.
func (m *Manager) NewPage(ctx context.Context, opts PageOptions) (*Page, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}

	b, err := envbuild.Preset(ctx, m.store, m.logger, opts.Base, opts.Browser, opts.Sites...)
	if err != nil {
		return nil, fmt.Errorf("failed to build environment configuration: %w", err)
	}
	sess, err := session.New(b, opts.Implementations, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	loop := jsexec.NewLoop()
	var p *Page
	loop.Run(func(vm *goja.Runtime) {
		p, err = m.assemble(ctx, loop, vm, sess, opts)
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShutdown
	}
	m.pages[sess.ID()] = p

	m.logger.Info("Page created",
		zap.String("session_id", sess.ID()),
		zap.String("url", p.env.URL()),
		zap.Strings("sites", opts.Sites),
		zap.Strings("bundles", opts.Bundles))
	return p, nil
}

// assemble builds the host environment of a page on the loop's runtime, in
// the order the interception layer depends on: document.all exists before
// any proxy, and injections are applied before any script runs.
func (m *Manager) assemble(ctx context.Context, loop *eventloop.EventLoop, vm *goja.Runtime, sess *session.Session, opts PageOptions) (*Page, error) {
	env := jsbind.New(vm, sess.Table(), sess.Logger())
	env.SetNavigator(navigatorFrom(sess.Fingerprint()))

	doc := opts.HTML
	if doc == "" {
		doc = blankDocument
	}
	if err := env.LoadHTML(strings.NewReader(doc), opts.URL); err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	handler := sess.SetCollection(env)
	layer := intercept.New(vm, sess, env, sess.Logger())
	hosts := env.Install(handler, layer.Wrap)
	if err := sess.Init(session.Hosts(hosts)); err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	compiler := intercept.NewCompiler(vm)
	for _, name := range opts.Bundles {
		sess.LoadBundle(ctx, m.store, name, compiler)
	}

	return &Page{
		manager: m,
		session: sess,
		env:     env,
		runtime: jsexec.NewRuntime(loop, vm, opts.Timeout, sess.Logger()),
	}, nil
}

// Active returns the number of open pages.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, id)
}

// Shutdown closes every open page and refuses new ones.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager...")

	m.mu.Lock()
	m.closed = true
	pages := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.pages = make(map[string]*Page)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pages {
		wg.Add(1)
		go func(p *Page) {
			defer wg.Done()
			p.interrupt()
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.Info("Browser manager shutdown complete.")
	return nil
}

// Page is one emulated document with its own runtime and session. Script
// execution is serialized because a goja runtime is single threaded.
type Page struct {
	manager *Manager
	session *session.Session
	env     *jsbind.Environment
	runtime *jsexec.Runtime

	mu     sync.Mutex
	closed bool
}

// ID returns the session id.
func (p *Page) ID() string { return p.session.ID() }

// Session returns the page's session.
func (p *Page) Session() *session.Session { return p.session }

// Environment returns the page's host environment.
func (p *Page) Environment() *jsbind.Environment { return p.env }

// ExecuteScript runs script in the page.
func (p *Page) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("page %s is closed", p.ID())
	}
	return p.runtime.ExecuteScript(ctx, script, args)
}

// Close releases the page.
func (p *Page) Close() {
	p.interrupt()
	p.manager.unregister(p.ID())
}

func (p *Page) interrupt() {
	// Stop a running script so the lock below can be taken.
	p.runtime.Interrupt("page closed")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.runtime.VM().ClearInterrupt()
}

// navigatorFrom overlays the fingerprint on the stock navigator values.
func navigatorFrom(fp envmodel.Fingerprint) jsbind.NavigatorDefaults {
	nav := jsbind.DefaultNavigator()
	if v := fp.String(envmodel.FPUserAgent); v != "" {
		nav.UserAgent = v
	}
	if v := fp.String(envmodel.FPPlatform); v != "" {
		nav.Platform = v
	}
	if v := fp.String(envmodel.FPVendor); v != "" {
		nav.Vendor = v
	}
	if v := fp.String(envmodel.FPLanguage); v != "" {
		nav.Language = v
	}
	if v := fp.Strings(envmodel.FPLanguages); len(v) > 0 {
		nav.Languages = v
	}
	if n, err := strconv.Atoi(fp.String(envmodel.FPHardwareConcurrency)); err == nil {
		nav.HardwareConcurrency = n
	}
	if n, err := strconv.Atoi(fp.String(envmodel.FPDeviceMemory)); err == nil {
		nav.DeviceMemory = n
	}
	return nav
}
