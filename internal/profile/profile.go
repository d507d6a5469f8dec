// Package profile reads the named configuration documents (base, browser and
// site layers, plus site implementation bundles) that feed the environment
// builder. It performs I/O and decoding only; merging lives in envbuild.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrProfileNotFound is returned when a referenced layer document does not exist.
var ErrProfileNotFound = errors.New("profile not found")

// Reserved top-level keys. Any key with the "_" prefix is metadata and is
// replaced wholesale during merges.
const (
	MetaKey        = "_meta"
	FingerprintKey = "_fingerprint"
	OverridesKey   = "_overrides"
	InjectionsKey  = "_injections"
)

// IsReserved reports whether key is a metadata key.
func IsReserved(key string) bool {
	return strings.HasPrefix(key, "_")
}

// Layer names the kind of document being loaded.
type Layer string

const (
	LayerBase    Layer = "base"
	LayerBrowser Layer = "browsers"
	LayerSite    Layer = "sites"
	LayerBundle  Layer = "bundles"
)

// Format is the encoding of a stored document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatJS   Format = "js"
)

// FormatFromPath infers the format from a file extension. Unknown extensions are treated as JSON.
func FormatFromPath(p string) Format {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".js":
		return FormatJS
	default:
		return FormatJSON
	}
}

// Raw is an undecoded document as held by a Store.
type Raw struct {
	Format Format
	Body   []byte
}

// Store reads raw documents by layer and name. Implementations return an
// error wrapping ErrProfileNotFound when the document does not exist.
type Store interface {
	Read(ctx context.Context, layer Layer, name string) (Raw, error)
}

// Document is one decoded layer: a nested record of class entries and
// "_"-prefixed metadata sections.
type Document map[string]any

// Name returns _meta.name, or "" when the document carries no metadata.
func (d Document) Name() string {
	meta, ok := d[MetaKey].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := meta["name"].(string)
	return name
}

// Section returns a reserved section as a record, or nil.
func (d Document) Section(key string) map[string]any {
	m, _ := d[key].(map[string]any)
	return m
}

// Load reads and decodes a layer document from s.
func Load(ctx context.Context, s Store, layer Layer, name string) (Document, error) {
	raw, err := s.Read(ctx, layer, name)
	if err != nil {
		return nil, err
	}
	doc, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", layer, name, err)
	}
	return doc, nil
}

// Decode parses a JSON or YAML body into a Document.
func Decode(raw Raw) (Document, error) {
	var doc map[string]any
	switch raw.Format {
	case FormatYAML:
		if err := yaml.Unmarshal(raw.Body, &doc); err != nil {
			return nil, err
		}
		if n, ok := normalizeYAML(doc).(map[string]any); ok {
			doc = n
		}
	case FormatJSON, "":
		if err := json.Unmarshal(raw.Body, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported profile format %q", raw.Format)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return Document(doc), nil
}

// normalizeYAML converts any map[any]any left by the YAML decoder (non-string
// keys) into map[string]any so that all documents share one shape.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return t
	}
}
