package envmodel

import (
	"fmt"
	"sort"
)

// Fingerprint is the flat identity record presented by the simulated browser
// (userAgent, platform, vendor, hardwareConcurrency, languages, ...).
// Later layers replace keys wholesale; list values are never concatenated.
type Fingerprint map[string]any

// Well-known fingerprint keys.
const (
	FPUserAgent           = "userAgent"
	FPPlatform            = "platform"
	FPVendor              = "vendor"
	FPHardwareConcurrency = "hardwareConcurrency"
	FPDeviceMemory        = "deviceMemory"
	FPLanguage            = "language"
	FPLanguages           = "languages"
)

// With returns a new fingerprint holding f's keys overlaid with other's.
func (f Fingerprint) With(other map[string]any) Fingerprint {
	out := make(Fingerprint, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String returns the value under key formatted as a string, or "" when absent.
func (f Fingerprint) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Strings returns a list value as []string. A scalar becomes a one-element list.
func (f Fingerprint) Strings(key string) []string {
	switch v := f[key].(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Keys returns the fingerprint keys in sorted order.
func (f Fingerprint) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
