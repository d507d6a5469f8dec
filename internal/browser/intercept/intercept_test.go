package intercept_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/hostenv/internal/browser/intercept"
	"github.com/xkilldash9x/hostenv/internal/browser/jsbind"
	"github.com/xkilldash9x/hostenv/internal/envbuild"
	"github.com/xkilldash9x/hostenv/internal/envfuncs"
	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/profile"
	"github.com/xkilldash9x/hostenv/internal/registry"
	"github.com/xkilldash9x/hostenv/internal/session"
)

const page = `<html><head><title>T</title></head><body><p id="x">hi</p></body></html>`

type fixture struct {
	vm   *goja.Runtime
	sess *session.Session
}

func setup(t *testing.T, extra func(r *registry.Registry)) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	b, err := envbuild.Chrome120(context.Background(), profile.NewFSStore(profile.Defaults()), logger)
	require.NoError(t, err)
	reg := envfuncs.Defaults()
	if extra != nil {
		extra(reg)
	}
	sess, err := session.New(b, reg, logger)
	require.NoError(t, err)

	vm := goja.New()
	env := jsbind.New(vm, sess.Table(), logger)
	require.NoError(t, env.LoadHTML(strings.NewReader(page), ""))
	handler := sess.SetCollection(env)
	layer := intercept.New(vm, sess, env, logger)
	require.NoError(t, sess.Init(session.Hosts(env.Install(handler, layer.Wrap))))
	return fixture{vm: vm, sess: sess}
}

func (f fixture) eval(t *testing.T, script string) goja.Value {
	t.Helper()
	v, err := f.vm.RunString(script)
	require.NoError(t, err, script)
	return v
}

func TestGetRoutesAccessorsToImplementations(t *testing.T) {
	f := setup(t, nil)

	assert.Equal(t, "Win32", f.eval(t, `navigator.platform`).String())
	assert.Equal(t, "undefined", f.eval(t, `typeof navigator.webdriver`).String())
	assert.Equal(t, "en-US", f.eval(t, `navigator.languages[0]`).String())
	assert.Equal(t, "", f.eval(t, `document.cookie`).String())
}

func TestGetFallsThroughToHostObject(t *testing.T) {
	f := setup(t, nil)

	assert.Equal(t, "T", f.eval(t, `document.title`).String())
	assert.Equal(t, "hi", f.eval(t, `document.getElementById("x").textContent`).String())
	assert.True(t, f.eval(t, `navigator.foo = 1; navigator.foo === 1`).ToBoolean())
	assert.True(t, goja.IsUndefined(f.eval(t, `navigator.missing`)))
}

func TestMethodsAreStableAndNamed(t *testing.T) {
	f := setup(t, nil)

	assert.True(t, f.eval(t, `navigator.javaEnabled === navigator.javaEnabled`).ToBoolean())
	assert.Equal(t, "javaEnabled", f.eval(t, `navigator.javaEnabled.name`).String())
	assert.False(t, f.eval(t, `navigator.javaEnabled()`).ToBoolean())

	_, err := f.vm.RunString(`navigator.javaEnabled.call(document)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Illegal invocation")
}

func TestMethodReceivesReceiverAndArguments(t *testing.T) {
	f := setup(t, func(r *registry.Registry) {
		r.Register(registry.Key{Class: "Navigator", Prop: "javaEnabled", Op: registry.OpValue},
			func(_ registry.Scope, this any, _ ...any) (any, error) { return this, nil })
		r.Register(registry.Key{Class: "Window", Prop: "alert", Op: registry.OpValue},
			func(_ registry.Scope, _ any, args ...any) (any, error) { return args, nil })
	})

	assert.True(t, f.eval(t, `navigator.javaEnabled() === navigator`).ToBoolean())
	assert.Equal(t, "hi,2,", f.eval(t, `window.alert("hi", 2, undefined).join()`).String())
}

func TestSetRoutesToSetter(t *testing.T) {
	var got []any
	f := setup(t, func(r *registry.Registry) {
		r.Register(registry.Key{Class: "Window", Prop: "name", Op: registry.OpSet},
			func(_ registry.Scope, _ any, args ...any) (any, error) {
				got = append(got, args...)
				return nil, nil
			})
	})

	f.eval(t, `window.name = "child"`)
	assert.Equal(t, []any{"child"}, got)
	assert.Equal(t, "", f.eval(t,
		`Object.getOwnPropertyDescriptor(Window.prototype, "name").get.call(window)`).String())

	assert.Equal(t, "k=v", f.eval(t, `document.cookie = "k=v"; document.cookie`).String())
	assert.Equal(t, "k=v", f.sess.Cache().Cookie())
}

func TestReadOnlyPropertiesIgnoreWrites(t *testing.T) {
	f := setup(t, nil)
	assert.Contains(t, f.eval(t, `navigator.userAgent = "x"; navigator.userAgent`).String(), "Chrome/120.0.0.0")
}

func TestImplementationErrorsBecomeExceptions(t *testing.T) {
	f := setup(t, func(r *registry.Registry) {
		r.Register(registry.Key{Class: "Navigator", Prop: "vendor", Op: registry.OpGet},
			func(registry.Scope, any, ...any) (any, error) { return nil, errors.New("boom") })
	})

	assert.Equal(t, "boom", f.eval(t, `(() => { try { navigator.vendor; } catch (e) { return e.message; } })()`).String())
}

func TestBundleExceptionsKeepTheirValue(t *testing.T) {
	f := setup(t, nil)

	reg, err := intercept.NewCompiler(f.vm).Compile("thrower", profile.Raw{
		Format: profile.FormatJS,
		Body:   []byte(`({ "Navigator_vendor_get": function () { throw new RangeError("nope"); } })`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.sess.Registry().Merge(reg))

	assert.True(t, f.eval(t, `(() => {
		try { navigator.vendor; } catch (e) { return e instanceof RangeError && e.message === "nope"; }
		return false;
	})()`).ToBoolean())
}

func TestBundleHostObjectReachesSession(t *testing.T) {
	f := setup(t, nil)

	reg, err := intercept.NewCompiler(f.vm).Compile("hosted", profile.Raw{
		Format: profile.FormatJS,
		Body: []byte(`(function (host) {
			return {
				"Navigator_vendor_get": function () { return host.fingerprint("platform") + "/" + host.fingerprint("missing"); },
				"Document_cookie_get": function () { host.set("reads", (host.get("reads") || 0) + 1); return "box:" + host.cookie; },
				"Window_name_set": function (v) { host.cookie = "name=" + v; },
			};
		})`),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, f.sess.Registry().Merge(reg))

	assert.Equal(t, "Win32/undefined", f.eval(t, `navigator.vendor`).String())
	f.eval(t, `window.name = "w1"`)
	assert.Equal(t, "name=w1", f.sess.Cache().Cookie())
	assert.Equal(t, "box:name=w1", f.eval(t, `document.cookie`).String())

	reads, ok := f.sess.Cache().Get("reads")
	require.True(t, ok)
	assert.EqualValues(t, 1, reads)
}

type classTag envmodel.ClassName

func (c classTag) ClassTag() envmodel.ClassName { return envmodel.ClassName(c) }

// siteStore serves one extra site document over the embedded profiles.
type siteStore struct {
	profile.Store
	name string
	body string
}

func (s siteStore) Read(ctx context.Context, layer profile.Layer, name string) (profile.Raw, error) {
	if layer == profile.LayerSite && name == s.name {
		return profile.Raw{Format: profile.FormatJSON, Body: []byte(s.body)}, nil
	}
	return s.Store.Read(ctx, layer, name)
}

func TestUnsetFlagsMatchResolvedAttributes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := siteStore{
		Store: profile.NewFSStore(profile.Defaults()),
		name:  "bare",
		body:  `{"_overrides": {"Navigator": {"oscpu": {"type": "property"}, "vibrate": {"type": "method"}}}}`,
	}
	b, err := envbuild.Preset(context.Background(), store, logger, "ecma_standard", "chrome_120", "bare")
	require.NoError(t, err)

	reg := envfuncs.Defaults()
	reg.Register(registry.Key{Class: "Navigator", Prop: "oscpu", Op: registry.OpGet},
		func(registry.Scope, any, ...any) (any, error) { return "Windows NT 10.0", nil })
	reg.Register(registry.Key{Class: "Navigator", Prop: "vibrate", Op: registry.OpValue},
		func(registry.Scope, any, ...any) (any, error) { return true, nil })
	sess, err := session.New(b, reg, logger)
	require.NoError(t, err)

	vm := goja.New()
	env := jsbind.New(vm, sess.Table(), logger)
	require.NoError(t, env.LoadHTML(strings.NewReader(page), ""))
	layer := intercept.New(vm, sess, env, logger)
	require.NoError(t, sess.Init(session.Hosts(env.Install(sess.SetCollection(env), layer.Wrap))))

	for _, prop := range []string{"oscpu", "vibrate"} {
		res := sess.ResolveGet(nil, classTag("Navigator"), prop)
		require.NotNil(t, res, prop)

		v, err := vm.RunString(`(() => {
			const d = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(navigator), "` + prop + `");
			const writable = "value" in d ? d.writable : typeof d.set === "function";
			return [d.configurable, writable, d.enumerable].join();
		})()`)
		require.NoError(t, err, prop)
		want := strings.Join([]string{
			strconv.FormatBool(res.Attrs.Configurable),
			strconv.FormatBool(res.Attrs.Writable),
			strconv.FormatBool(res.Attrs.Enumerable),
		}, ",")
		assert.Equal(t, want, v.String(), prop)
		assert.Equal(t, "false,false,true", want, prop)
	}
	assert.Equal(t, "Windows NT 10.0", evalString(t, vm, `navigator.oscpu`))
	assert.Equal(t, "true", evalString(t, vm, `String(navigator.vibrate())`))
}

func evalString(t *testing.T, vm *goja.Runtime, script string) string {
	t.Helper()
	v, err := vm.RunString(script)
	require.NoError(t, err, script)
	return v.String()
}

func TestCompile(t *testing.T) {
	vm := goja.New()
	c := intercept.NewCompiler(vm)

	t.Run("registers every function", func(t *testing.T) {
		reg, err := c.Compile("sum", profile.Raw{
			Format: profile.FormatJS,
			Body:   []byte(`({ "Window_sum": function (a, b) { return a + b; }, "Window_name_get": function () { return "w"; } })`),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, reg.Len())

		fn, ok := reg.Lookup(registry.Key{Class: "Window", Prop: "sum", Op: registry.OpValue})
		require.True(t, ok)
		v, err := fn(nil, nil, 2, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(5), v.(goja.Value).ToInteger())

		_, ok = reg.Lookup(registry.Key{Class: "Window", Prop: "name", Op: registry.OpGet})
		assert.True(t, ok)
	})

	failures := map[string]profile.Raw{
		"wrong format":   {Format: profile.FormatJSON, Body: []byte(`{}`)},
		"syntax error":   {Format: profile.FormatJS, Body: []byte(`({`)},
		"not an object":  {Format: profile.FormatJS, Body: []byte(`42`)},
		"not a function": {Format: profile.FormatJS, Body: []byte(`({ "Navigator_x": 1 })`)},
		"malformed key":  {Format: profile.FormatJS, Body: []byte(`({ "bad": function () {} })`)},
		"runtime error":  {Format: profile.FormatJS, Body: []byte(`undefinedFn()`)},
		"host at load":   {Format: profile.FormatJS, Body: []byte(`(function (host) { host.cookie; return {}; })`)},
	}
	for name, raw := range failures {
		t.Run(name, func(t *testing.T) {
			_, err := c.Compile(name, raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, intercept.ErrBundle)
		})
	}
}
