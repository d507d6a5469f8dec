package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/hostenv/internal/envmodel"
)

func constant(v any) Func {
	return func(Scope, any, ...any) (any, error) { return v, nil }
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "Navigator_webdriver_get", Key{Class: "Navigator", Prop: "webdriver", Op: OpGet}.String())
	assert.Equal(t, "Document_cookie_set", Key{Class: "Document", Prop: "cookie", Op: OpSet}.String())
	assert.Equal(t, "HTMLAllCollection_item", Key{Class: "HTMLAllCollection", Prop: "item"}.String())
}

func TestParseKey(t *testing.T) {
	cases := map[string]Key{
		"Navigator_webdriver_get": {Class: "Navigator", Prop: "webdriver", Op: OpGet},
		"Document_cookie_set":     {Class: "Document", Prop: "cookie", Op: OpSet},
		"HTMLAllCollection_item":  {Class: "HTMLAllCollection", Prop: "item", Op: OpValue},
		"Window___nightmare_get":  {Class: "Window", Prop: "__nightmare", Op: OpGet},
		"Window__get":             {Class: "Window", Prop: "_get", Op: OpValue},
	}
	for in, want := range cases {
		got, err := ParseKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, in, got.String(), "round trip")
	}

	for _, bad := range []string{"", "Navigator", "_webdriver", "Navigator_"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestRegistryMergeLastWriterWins(t *testing.T) {
	generic := New()
	ua := Key{Class: "Navigator", Prop: "userAgent", Op: OpGet}
	vendor := Key{Class: "Navigator", Prop: "vendor", Op: OpGet}
	generic.Register(ua, constant("generic"))
	generic.Register(vendor, constant("Google Inc."))

	site := New()
	require.NoError(t, site.RegisterNamed("Navigator_userAgent_get", constant("site")))

	merged := generic.Clone()
	assert.Equal(t, 1, merged.Merge(site))
	assert.Equal(t, 2, merged.Len())

	f, ok := merged.Lookup(ua)
	require.True(t, ok)
	v, _ := f(nil, nil)
	assert.Equal(t, "site", v)

	f, _ = generic.Lookup(ua)
	v, _ = f(nil, nil)
	assert.Equal(t, "generic", v, "clone isolates the source registry")

	assert.Equal(t, []Key{ua, vendor}, merged.Keys())
}

func TestLookupMisses(t *testing.T) {
	var nilReg *Registry
	_, ok := nilReg.Lookup(Key{Class: "A", Prop: "b"})
	assert.False(t, ok)

	r := New()
	r.Register(Key{Class: envmodel.ClassName("A"), Prop: "b"}, nil)
	_, ok = r.Lookup(Key{Class: "A", Prop: "b"})
	assert.False(t, ok, "nil functions are treated as absent")
	assert.Equal(t, 0, r.Merge(nil))
}
