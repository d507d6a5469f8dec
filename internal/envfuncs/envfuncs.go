// Package envfuncs holds the generic implementation set: the overrides every
// session starts with before site bundles are merged over it.
package envfuncs

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/registry"
)

func getter(class envmodel.ClassName, prop string) registry.Key {
	return registry.Key{Class: class, Prop: prop, Op: registry.OpGet}
}

func setter(class envmodel.ClassName, prop string) registry.Key {
	return registry.Key{Class: class, Prop: prop, Op: registry.OpSet}
}

func method(class envmodel.ClassName, prop string) registry.Key {
	return registry.Key{Class: class, Prop: prop, Op: registry.OpValue}
}

// Defaults returns a fresh registry with the generic implementations.
func Defaults() *registry.Registry {
	r := registry.New()

	r.Register(getter("Navigator", "webdriver"), webdriver)
	for _, key := range []string{
		envmodel.FPUserAgent,
		envmodel.FPPlatform,
		envmodel.FPVendor,
		envmodel.FPLanguage,
		envmodel.FPHardwareConcurrency,
		envmodel.FPDeviceMemory,
	} {
		r.Register(getter("Navigator", key), fingerprintValue(key))
	}
	r.Register(getter("Navigator", envmodel.FPLanguages), languages)
	r.Register(getter("Navigator", "cookieEnabled"), constant(true))
	r.Register(method("Navigator", "javaEnabled"), constant(false))

	r.Register(getter("Document", "cookie"), cookieGet)
	r.Register(setter("Document", "cookie"), cookieSet)

	r.Register(method("HTMLAllCollection", "item"), allItem)
	r.Register(method("HTMLAllCollection", "namedItem"), allNamedItem)
	return r
}

func constant(v any) registry.Func {
	return func(registry.Scope, any, ...any) (any, error) { return v, nil }
}

// webdriver hides the automation flag.
func webdriver(registry.Scope, any, ...any) (any, error) {
	return envmodel.Undefined, nil
}

// fingerprintValue serves a navigator field straight from the session
// fingerprint. A missing field reads as undefined.
func fingerprintValue(key string) registry.Func {
	return func(s registry.Scope, _ any, _ ...any) (any, error) {
		v, ok := s.Fingerprint()[key]
		if !ok {
			return envmodel.Undefined, nil
		}
		return v, nil
	}
}

func languages(s registry.Scope, _ any, _ ...any) (any, error) {
	langs := s.Fingerprint().Strings(envmodel.FPLanguages)
	if langs == nil {
		if lang := s.Fingerprint().String(envmodel.FPLanguage); lang != "" {
			langs = []string{lang}
		}
	}
	out := make([]any, len(langs))
	for i, l := range langs {
		out[i] = l
	}
	return out, nil
}

func cookieGet(s registry.Scope, _ any, _ ...any) (any, error) {
	return s.Cache().Cookie(), nil
}

func cookieSet(s registry.Scope, _ any, args ...any) (any, error) {
	value := ""
	if len(args) > 0 && args[0] != nil && !envmodel.IsUndefined(args[0]) {
		value = fmt.Sprint(args[0])
	}
	s.Logger().Debug("Cookie set", zap.String("value", value))
	s.Cache().SetCookie(value)
	return envmodel.Undefined, nil
}

func allItem(s registry.Scope, _ any, args ...any) (any, error) {
	h := s.Collection()
	if h == nil || len(args) == 0 {
		return nil, nil
	}
	res := h.Dispatch(args[0])
	if !res.Found {
		return nil, nil
	}
	return res.Element, nil
}

func allNamedItem(s registry.Scope, _ any, args ...any) (any, error) {
	h := s.Collection()
	if h == nil || len(args) == 0 {
		return nil, nil
	}
	name, ok := args[0].(string)
	if !ok {
		name = fmt.Sprint(args[0])
	}
	el, found := h.NamedItem(name)
	if !found {
		return nil, nil
	}
	return el, nil
}
