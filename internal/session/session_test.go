package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/hostenv/internal/envbuild"
	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/profile"
	"github.com/xkilldash9x/hostenv/internal/registry"
)

type fakeHost struct {
	class    envmodel.ClassName
	injected map[string]any
	fail     bool
}

func newHost(class envmodel.ClassName) *fakeHost {
	return &fakeHost{class: class, injected: map[string]any{}}
}

func (h *fakeHost) ClassTag() envmodel.ClassName { return h.class }

func (h *fakeHost) Inject(prop string, value any) error {
	if h.fail {
		return errors.New("frozen")
	}
	h.injected[prop] = value
	return nil
}

type mockCompiler struct {
	mock.Mock
}

func (m *mockCompiler) Compile(name string, raw profile.Raw) (*registry.Registry, error) {
	args := m.Called(name, raw)
	reg, _ := args.Get(0).(*registry.Registry)
	return reg, args.Error(1)
}

func defaultStore() profile.Store {
	return profile.NewFSStore(profile.Defaults())
}

func newSession(t *testing.T, logger *zap.Logger) *Session {
	t.Helper()
	b, err := envbuild.Chrome120WithAkamai(context.Background(), defaultStore(), logger)
	require.NoError(t, err)
	s, err := New(b, nil, logger)
	require.NoError(t, err)
	return s
}

func TestNewRequiresBuild(t *testing.T) {
	b := envbuild.New(defaultStore(), zaptest.NewLogger(t))

	_, err := New(b, nil, nil)
	assert.ErrorIs(t, err, envbuild.ErrNotBuilt)
}

func TestSessionsAreIsolated(t *testing.T) {
	logger := zaptest.NewLogger(t)
	a := newSession(t, logger)
	b := newSession(t, logger)

	assert.NotEqual(t, a.ID(), b.ID())

	a.Cache().SetCookie("a=1")
	assert.Equal(t, "", b.Cache().Cookie())

	a.Registry().Register(registry.Key{Class: "Navigator", Prop: "extra", Op: registry.OpGet},
		func(registry.Scope, any, ...any) (any, error) { return 1, nil })
	assert.Equal(t, a.Registry().Len()-1, b.Registry().Len())
}

func TestCookieRoundTrip(t *testing.T) {
	s := newSession(t, zaptest.NewLogger(t))
	doc := newHost("HTMLDocument")

	set := s.ResolveSet("receiver", doc, "cookie", "a=1")
	require.NotNil(t, set)
	_, err := s.Invoke(set, "a=1")
	require.NoError(t, err)

	get := s.ResolveGet("receiver", doc, "cookie")
	require.NotNil(t, get)
	v, err := s.Invoke(get)
	require.NoError(t, err)
	assert.Equal(t, "a=1", v)
}

func TestFingerprintGetters(t *testing.T) {
	s := newSession(t, zaptest.NewLogger(t))
	nav := newHost("Navigator")

	res := s.ResolveGet(nav, nav, "language")
	require.NotNil(t, res)
	v, err := s.Invoke(res)
	require.NoError(t, err)
	assert.Equal(t, "zh-CN", v, "site fingerprint wins over browser")

	res = s.ResolveGet(nav, nav, "webdriver")
	require.NotNil(t, res)
	assert.Equal(t, "Navigator_webdriver_get", res.Key.String())
	assert.False(t, res.Attrs.Writable)
	v, err = s.Invoke(res)
	require.NoError(t, err)
	assert.True(t, envmodel.IsUndefined(v))
}

func TestInitAppliesInjections(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := newSession(t, zap.New(core))

	window := newHost("Window")
	nav := newHost("Navigator")
	require.NoError(t, s.Init(Hosts{"window": window, "navigator": nav}))

	for _, prop := range []string{"_phantom", "_selenium", "__nightmare", "callPhantom"} {
		v, ok := window.injected[prop]
		require.True(t, ok, prop)
		assert.True(t, envmodel.IsUndefined(v), prop)
	}
	assert.Contains(t, nav.injected, "brave")

	// Hosts are reachable by variable and class name.
	h, err := s.Host("Navigator")
	require.NoError(t, err)
	assert.Same(t, nav, h)
	h, err = s.Host("window")
	require.NoError(t, err)
	assert.Same(t, window, h)

	assert.Equal(t, 1, logs.FilterMessage("Session initialized").Len())
}

func TestInitSkipsUnknownHost(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := newSession(t, zap.New(core))

	window := newHost("Window")
	require.NoError(t, s.Init(Hosts{"window": window}))

	warned := logs.FilterMessage("Skipping injections for unknown host").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "navigator", warned[0].ContextMap()["host"])
	assert.Len(t, window.injected, 4)
}

func TestInitInjectionFailure(t *testing.T) {
	s := newSession(t, zaptest.NewLogger(t))
	window := newHost("Window")
	window.fail = true

	err := s.Init(Hosts{"window": window, "navigator": newHost("Navigator")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inject window.")

	_, err = s.Host("window")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDispatchBeforeCollection(t *testing.T) {
	s := newSession(t, zaptest.NewLogger(t))

	_, err := s.Dispatch()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Nil(t, s.Collection())
}

func TestLoadBundle(t *testing.T) {
	s := newSession(t, zaptest.NewLogger(t))
	ctx := context.Background()

	bundle := registry.New()
	bundle.Register(registry.Key{Class: "Navigator", Prop: "platform", Op: registry.OpGet},
		func(registry.Scope, any, ...any) (any, error) { return "Linux x86_64", nil })

	c := new(mockCompiler)
	c.On("Compile", "akamai", mock.MatchedBy(func(r profile.Raw) bool {
		return r.Format == profile.FormatJS
	})).Return(bundle, nil).Once()

	assert.Equal(t, 1, s.LoadBundle(ctx, defaultStore(), "akamai", c))
	c.AssertExpectations(t)

	nav := newHost("Navigator")
	res := s.ResolveGet(nav, nav, "platform")
	require.NotNil(t, res)
	v, err := s.Invoke(res)
	require.NoError(t, err)
	assert.Equal(t, "Linux x86_64", v, "bundle entries win over the generic set")
}

func TestLoadBundleNoop(t *testing.T) {
	s := newSession(t, zaptest.NewLogger(t))
	c := new(mockCompiler)

	assert.Zero(t, s.LoadBundle(context.Background(), defaultStore(), "", c))
	assert.Zero(t, s.LoadBundle(context.Background(), defaultStore(), "default", c))
	c.AssertNotCalled(t, "Compile", mock.Anything, mock.Anything)
}

func TestLoadBundleWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := newSession(t, zap.New(core))
	before := s.Registry().Len()

	c := new(mockCompiler)
	c.On("Compile", "akamai", mock.Anything).Return(nil, errors.New("syntax error")).Once()

	assert.Zero(t, s.LoadBundle(context.Background(), defaultStore(), "missing", c))
	assert.Zero(t, s.LoadBundle(context.Background(), defaultStore(), "akamai", c))
	assert.Equal(t, before, s.Registry().Len())
	assert.Equal(t, 2, logs.FilterMessage("Failed to load implementation bundle").Len())
}
