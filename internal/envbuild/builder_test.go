package envbuild

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/profile"
)

const baseDoc = `{
  "_meta": {"name": "base"},
  "EventTarget": {"proto": null, "props": {"addEventListener": {"type": "method", "configurable": true, "writable": true, "enumerable": true}}},
  "Navigator": {"proto": null, "illegalConstructor": true, "props": {
    "webdriver": {"type": "accessor", "configurable": true, "writable": false, "enumerable": true},
    "userAgent": {"type": "property", "configurable": true, "writable": false, "enumerable": true},
    "languages": {"type": "property", "tags": ["a", "b"]}
  }},
  "Document": {"proto": "EventTarget", "props": {"cookie": {"type": "accessor", "writable": true}}}
}`

const browserDoc = `{
  "_meta": {"name": "browser"},
  "_fingerprint": {"userAgent": "UA-1", "vendor": "Google Inc.", "languages": ["en-US", "en"]},
  "Navigator": {"props": {
    "userAgent": {"enumerable": false},
    "languages": {"tags": ["c"]},
    "deviceMemory": {"type": "property"}
  }}
}`

const siteDoc = `
_meta:
  name: site
_fingerprint:
  platform: Win32
_overrides:
  Navigator:
    userAgent:
      configurable: false
    webdriver:
      type: property
  Screen:
    width:
      type: property
_injections:
  window:
    _phantom: {type: undefined}
  navigator:
    brave: {type: undefined}
`

func testStore() profile.Store {
	return profile.NewFSStore(fstest.MapFS{
		"base/base.json":       {Data: []byte(baseDoc)},
		"browsers/chrome.json": {Data: []byte(browserDoc)},
		"sites/site.yaml":      {Data: []byte(siteDoc)},
		"sites/second.json": {Data: []byte(`{
			"_fingerprint": {"platform": "MacIntel"},
			"_overrides": {"Navigator": {"userAgent": {"configurable": true}}},
			"_injections": {"navigator": {"brave": {"type": "null"}}}
		}`)},
		"sites/cyclic.json":   {Data: []byte(`{"EventTarget": {"proto": "Document"}}`)},
		"sites/dangling.json": {Data: []byte(`{"Screen": {"proto": "Ghost", "props": {}}}`)},
	})
}

func fullBuilder(t *testing.T, sites ...string) *Builder {
	t.Helper()
	ctx := context.Background()
	b := New(testStore(), zaptest.NewLogger(t))
	require.NoError(t, b.LoadBase(ctx, "base"))
	require.NoError(t, b.LoadBrowser(ctx, "chrome"))
	for _, s := range sites {
		require.NoError(t, b.LoadSite(ctx, s))
	}
	require.NoError(t, b.Build())
	return b
}

func TestBuildPrecedence(t *testing.T) {
	b := fullBuilder(t, "site")
	table, err := b.Config()
	require.NoError(t, err)

	ua, ok := table.Property("Navigator", "userAgent")
	require.True(t, ok)
	assert.Equal(t, envmodel.KindProperty, ua.Kind, "base kind survives")
	assert.False(t, envmodel.Flag(ua.Configurable, true), "site wins over base")
	assert.False(t, envmodel.Flag(ua.Enumerable, true), "browser wins over base")
	assert.False(t, envmodel.Flag(ua.Writable, true), "base value kept")

	wd, ok := table.Property("Navigator", "webdriver")
	require.True(t, ok)
	assert.Equal(t, envmodel.KindProperty, wd.Kind, "site can swap descriptor kind")

	_, ok = table.Property("Navigator", "deviceMemory")
	assert.True(t, ok, "browser can add properties")

	screen, ok := table["Screen"]
	require.True(t, ok, "override creates missing class entry")
	assert.Equal(t, envmodel.ClassName(""), screen.Proto)
	assert.Contains(t, screen.Props, "width")

	assert.True(t, table["Navigator"].IllegalConstructor)
	assert.Equal(t, envmodel.ClassName("EventTarget"), table["Document"].Proto)
}

func TestBuildSiteOrder(t *testing.T) {
	b := fullBuilder(t, "site", "second")
	table, err := b.Config()
	require.NoError(t, err)

	ua, _ := table.Property("Navigator", "userAgent")
	assert.True(t, envmodel.Flag(ua.Configurable, false), "later site wins")

	fp, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, "MacIntel", fp.String(envmodel.FPPlatform))

	inj, err := b.Injections()
	require.NoError(t, err)
	assert.Nil(t, inj["navigator"]["brave"].Resolve())
	assert.True(t, envmodel.IsUndefined(inj["window"]["_phantom"].Resolve()))
}

func TestBuildFingerprintScenario(t *testing.T) {
	b := fullBuilder(t, "site")
	fp, err := b.Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, "UA-1", fp.String(envmodel.FPUserAgent))
	assert.Equal(t, "Win32", fp.String(envmodel.FPPlatform))
	assert.Equal(t, "Google Inc.", fp.String(envmodel.FPVendor))
	assert.Equal(t, []string{"en-US", "en"}, fp.Strings(envmodel.FPLanguages))
}

func TestBuildListsReplaced(t *testing.T) {
	b := fullBuilder(t)
	merged, err := b.Merged()
	require.NoError(t, err)

	nav := merged["Navigator"].(map[string]any)
	langs := nav["props"].(map[string]any)["languages"].(map[string]any)
	assert.Equal(t, []any{"c"}, langs["tags"])
	assert.Equal(t, "property", langs["type"])
	assert.Equal(t, map[string]any{"name": "base"}, merged["_meta"])
}

func TestBuildDeterministic(t *testing.T) {
	b := fullBuilder(t, "site", "second")
	var first bytes.Buffer
	require.NoError(t, b.Export(&first))
	firstTable, _ := b.Config()

	require.NoError(t, b.Build())
	var second bytes.Buffer
	require.NoError(t, b.Export(&second))
	secondTable, _ := b.Config()

	assert.Equal(t, first.String(), second.String())
	assert.Equal(t, firstTable, secondTable)

	other := fullBuilder(t, "site", "second")
	var third bytes.Buffer
	require.NoError(t, other.Export(&third))
	assert.Equal(t, first.Bytes(), third.Bytes())
}

func TestBuildDoesNotMutateLayers(t *testing.T) {
	b := fullBuilder(t, "site")
	merged, err := b.Merged()
	require.NoError(t, err)

	merged["Navigator"].(map[string]any)["props"].(map[string]any)["userAgent"].(map[string]any)["configurable"] = true
	overrides := b.sites[0].Section(profile.OverridesKey)
	assert.Equal(t, false, overrides["Navigator"].(map[string]any)["userAgent"].(map[string]any)["configurable"])

	baseNav := b.base["Navigator"].(map[string]any)["props"].(map[string]any)
	assert.NotContains(t, baseNav, "deviceMemory")

	table, _ := b.Config()
	ua, _ := table.Property("Navigator", "userAgent")
	assert.False(t, *ua.Configurable)
}

func TestNotBuilt(t *testing.T) {
	b := New(testStore(), nil)
	_, err := b.Config()
	assert.ErrorIs(t, err, ErrNotBuilt)
	_, err = b.Fingerprint()
	assert.ErrorIs(t, err, ErrNotBuilt)
	_, err = b.Injections()
	assert.ErrorIs(t, err, ErrNotBuilt)
	assert.ErrorIs(t, b.Export(&bytes.Buffer{}), ErrNotBuilt)

	assert.ErrorIs(t, b.Build(), ErrNoBase)
}

func TestProfileNotFound(t *testing.T) {
	ctx := context.Background()
	b := New(testStore(), nil)
	assert.ErrorIs(t, b.LoadBase(ctx, "missing"), profile.ErrProfileNotFound)
	assert.ErrorIs(t, b.LoadBrowser(ctx, "missing"), profile.ErrProfileNotFound)
	assert.ErrorIs(t, b.LoadSite(ctx, "missing"), profile.ErrProfileNotFound)
}

func TestBuildRejectsBadProtoChains(t *testing.T) {
	ctx := context.Background()

	b := New(testStore(), nil)
	require.NoError(t, b.LoadBase(ctx, "base"))
	require.NoError(t, b.LoadSite(ctx, "cyclic"))
	assert.ErrorIs(t, b.Build(), envmodel.ErrProtoCycle)
	_, err := b.Config()
	assert.ErrorIs(t, err, ErrNotBuilt, "failed build leaves the builder unbuilt")

	b = New(testStore(), nil)
	require.NoError(t, b.LoadBase(ctx, "base"))
	require.NoError(t, b.LoadSite(ctx, "dangling"))
	assert.ErrorIs(t, b.Build(), envmodel.ErrDanglingProto)
}

func TestBuildLogsLayers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := context.Background()
	b := New(testStore(), zap.New(core))
	require.NoError(t, b.LoadBase(ctx, "base"))
	require.NoError(t, b.Build())

	assert.Equal(t, 1, logs.FilterMessage("Loaded profile layer").Len())
	assert.Equal(t, 1, logs.FilterMessage("Configuration merged successfully").Len())
}

func TestExportReloadsAsBase(t *testing.T) {
	b := fullBuilder(t, "site")
	var out bytes.Buffer
	require.NoError(t, b.Export(&out))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "Win32", decoded["_fingerprint"].(map[string]any)["platform"])

	reload := New(profile.NewFSStore(fstest.MapFS{"base/export.json": {Data: out.Bytes()}}), nil)
	require.NoError(t, reload.LoadBase(context.Background(), "export"))
	require.NoError(t, reload.Build())

	want, _ := b.Config()
	got, _ := reload.Config()
	assert.Equal(t, want, got)
	fp, _ := reload.Fingerprint()
	assert.Equal(t, "UA-1", fp.String(envmodel.FPUserAgent))
}

func TestPresets(t *testing.T) {
	store := profile.NewFSStore(profile.Defaults())
	ctx := context.Background()

	b, err := Chrome120(ctx, store, nil)
	require.NoError(t, err)
	fp, _ := b.Fingerprint()
	assert.Equal(t, "Win32", fp.String(envmodel.FPPlatform))

	b, err = Chrome120WithAkamai(ctx, store, nil)
	require.NoError(t, err)
	inj, _ := b.Injections()
	assert.Contains(t, inj["window"], "callPhantom")
	fp, _ = b.Fingerprint()
	assert.Equal(t, "zh-CN", fp.String(envmodel.FPLanguage))
}

func TestDeepMerge(t *testing.T) {
	target := map[string]any{
		"a":     map[string]any{"x": 1, "y": 2},
		"_meta": map[string]any{"name": "t", "keep": true},
		"list":  []any{1, 2},
		"str":   "old",
	}
	source := map[string]any{
		"a":     map[string]any{"y": 3, "z": 4},
		"_meta": map[string]any{"name": "s"},
		"list":  []any{3},
		"str":   map[string]any{"now": "record"},
	}
	got := DeepMerge(target, source)

	assert.Equal(t, map[string]any{"x": 1, "y": 3, "z": 4}, got["a"])
	assert.Equal(t, map[string]any{"name": "s"}, got["_meta"], "metadata replaced wholesale")
	assert.Equal(t, []any{3}, got["list"])
	assert.Equal(t, map[string]any{"now": "record"}, got["str"])
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, target["a"], "target untouched")
}
