package envbuild

import (
	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/profile"
)

// DeepMerge returns a new record holding target overlaid with source. Reserved
// ("_"-prefixed) keys are replaced wholesale, nested records are merged
// recursively and everything else, lists included, is replaced. Neither input
// is modified and the result shares no mutable state with them.
func DeepMerge(target, source map[string]any) map[string]any {
	out := cloneRecord(target)
	for key, incoming := range source {
		if profile.IsReserved(key) {
			out[key] = cloneValue(incoming)
			continue
		}
		src, ok := incoming.(map[string]any)
		if !ok || src == nil {
			out[key] = cloneValue(incoming)
			continue
		}
		existing, _ := out[key].(map[string]any)
		out[key] = DeepMerge(existing, src)
	}
	return out
}

// applyOverrides shallow-merges each partial descriptor onto the matching
// property of config, creating the class entry (null proto, empty props) and
// the property when absent.
func applyOverrides(config, overrides map[string]any) map[string]any {
	out := cloneRecord(config)
	for className, rawClass := range overrides {
		classOverrides, ok := rawClass.(map[string]any)
		if !ok {
			continue
		}

		entry, ok := out[className].(map[string]any)
		if !ok {
			entry = map[string]any{"proto": nil, "props": map[string]any{}}
		} else {
			entry = cloneRecord(entry)
		}
		props, ok := entry["props"].(map[string]any)
		if !ok {
			props = map[string]any{}
		} else {
			props = cloneRecord(props)
		}

		for propName, rawOverride := range classOverrides {
			override, ok := rawOverride.(map[string]any)
			if !ok {
				continue
			}
			current, _ := props[propName].(map[string]any)
			merged := cloneRecord(current)
			for k, v := range override {
				merged[k] = cloneValue(v)
			}
			props[propName] = merged
		}

		entry["props"] = props
		out[className] = entry
	}
	return out
}

// collectInjections overlays the injections declared by a site layer onto acc.
func collectInjections(acc envmodel.Injections, section map[string]any) envmodel.Injections {
	for target, rawProps := range section {
		props, ok := rawProps.(map[string]any)
		if !ok {
			continue
		}
		dst, ok := acc[target]
		if !ok {
			dst = make(map[string]envmodel.Injection, len(props))
			acc[target] = dst
		}
		for prop, rawSpec := range props {
			inj := envmodel.Injection{}
			if spec, ok := rawSpec.(map[string]any); ok {
				inj.Type, _ = spec["type"].(string)
				inj.Value = cloneValue(spec["value"])
			}
			dst[prop] = inj
		}
	}
	return acc
}

// decodeTable converts the merged document into the typed class table.
// Malformed entries degrade to defaults instead of failing the build.
func decodeTable(doc map[string]any) envmodel.Table {
	table := make(envmodel.Table, len(doc))
	for key, raw := range doc {
		if profile.IsReserved(key) {
			continue
		}
		rec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cd := &envmodel.ClassDescriptor{Props: map[string]envmodel.PropertyDescriptor{}}
		if proto, ok := rec["proto"].(string); ok {
			cd.Proto = envmodel.ClassName(proto)
		}
		cd.IllegalConstructor, _ = rec["illegalConstructor"].(bool)
		if props, ok := rec["props"].(map[string]any); ok {
			for name, rawProp := range props {
				cd.Props[name] = decodeDescriptor(rawProp)
			}
		}
		table[envmodel.ClassName(key)] = cd
	}
	return table
}

func decodeDescriptor(raw any) envmodel.PropertyDescriptor {
	rec, _ := raw.(map[string]any)
	kind, _ := rec["type"].(string)
	return envmodel.PropertyDescriptor{
		Kind:         envmodel.ParseKind(kind),
		Configurable: optBool(rec["configurable"]),
		Writable:     optBool(rec["writable"]),
		Enumerable:   optBool(rec["enumerable"]),
	}
}

func optBool(v any) *bool {
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

func cloneRecord(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneRecord(t)
	case profile.Document:
		return cloneRecord(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return t
	}
}
