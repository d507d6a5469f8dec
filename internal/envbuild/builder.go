// Package envbuild composes the base, browser and site profile layers into
// one class-descriptor table plus one fingerprint record.
package envbuild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/profile"
)

var (
	// ErrNotBuilt is returned when results are requested before Build.
	ErrNotBuilt = errors.New("configuration not built yet, call Build first")
	// ErrNoBase is returned by Build when no base layer was loaded.
	ErrNoBase = errors.New("base profile must be loaded first")
)

// Builder records layers as they are loaded and merges them on Build.
// Loading never merges; Build always re-merges from the recorded layers, so
// the same inputs produce the same output.
type Builder struct {
	store  profile.Store
	logger *zap.Logger

	base    profile.Document
	browser profile.Document
	sites   []profile.Document

	built       bool
	merged      map[string]any
	table       envmodel.Table
	fingerprint envmodel.Fingerprint
	injections  envmodel.Injections
}

// New returns a builder reading layers from store.
func New(store profile.Store, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		store:  store,
		logger: logger.Named("envbuild"),
	}
}

func (b *Builder) load(ctx context.Context, layer profile.Layer, name string) (profile.Document, error) {
	doc, err := profile.Load(ctx, b.store, layer, name)
	if err != nil {
		return nil, fmt.Errorf("load %s profile %q: %w", layer, name, err)
	}
	b.logger.Info("Loaded profile layer",
		zap.String("layer", string(layer)),
		zap.String("name", name),
		zap.String("meta_name", doc.Name()))
	return doc, nil
}

// LoadBase records the base layer, replacing any previously loaded one.
func (b *Builder) LoadBase(ctx context.Context, name string) error {
	doc, err := b.load(ctx, profile.LayerBase, name)
	if err != nil {
		return err
	}
	b.base = doc
	return nil
}

// LoadBrowser records the browser layer, replacing any previously loaded one.
func (b *Builder) LoadBrowser(ctx context.Context, name string) error {
	doc, err := b.load(ctx, profile.LayerBrowser, name)
	if err != nil {
		return err
	}
	b.browser = doc
	return nil
}

// LoadSite appends a site layer. Site layers apply in load order.
func (b *Builder) LoadSite(ctx context.Context, name string) error {
	doc, err := b.load(ctx, profile.LayerSite, name)
	if err != nil {
		return err
	}
	b.sites = append(b.sites, doc)
	return nil
}

// Build merges Base, then Browser, then each Site layer and validates the result.
func (b *Builder) Build() error {
	b.built = false
	if b.base == nil {
		return ErrNoBase
	}

	merged := DeepMerge(nil, b.base)
	fingerprint := envmodel.Fingerprint{}.With(b.base.Section(profile.FingerprintKey))
	delete(merged, profile.FingerprintKey)

	if b.browser != nil {
		merged = DeepMerge(merged, withoutReserved(b.browser))
		fingerprint = fingerprint.With(b.browser.Section(profile.FingerprintKey))
	}

	injections := envmodel.Injections{}
	for _, site := range b.sites {
		merged = DeepMerge(merged, withoutReserved(site))
		if overrides := site.Section(profile.OverridesKey); overrides != nil {
			merged = applyOverrides(merged, overrides)
		}
		if section := site.Section(profile.InjectionsKey); section != nil {
			injections = collectInjections(injections, section)
		}
		fingerprint = fingerprint.With(site.Section(profile.FingerprintKey))
	}

	table := decodeTable(merged)
	if err := table.Validate(); err != nil {
		return fmt.Errorf("invalid merged configuration: %w", err)
	}

	b.merged = merged
	b.table = table
	b.fingerprint = fingerprint
	b.injections = injections
	b.built = true

	b.logger.Info("Configuration merged successfully",
		zap.Int("classes", len(table)),
		zap.Int("site_layers", len(b.sites)),
		zap.Int("fingerprint_keys", len(fingerprint)))
	return nil
}

// withoutReserved drops the metadata sections a layer carries for the builder
// itself (_meta, _fingerprint, _overrides, _injections) before deep merging.
func withoutReserved(doc profile.Document) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if profile.IsReserved(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// Config returns the merged class table.
func (b *Builder) Config() (envmodel.Table, error) {
	if !b.built {
		return nil, ErrNotBuilt
	}
	return b.table, nil
}

// Fingerprint returns the merged fingerprint record.
func (b *Builder) Fingerprint() (envmodel.Fingerprint, error) {
	if !b.built {
		return nil, ErrNotBuilt
	}
	return b.fingerprint, nil
}

// Injections returns the injections declared by the site layers.
func (b *Builder) Injections() (envmodel.Injections, error) {
	if !b.built {
		return nil, ErrNotBuilt
	}
	return b.injections, nil
}

// Merged returns a copy of the merged document, before typing.
func (b *Builder) Merged() (profile.Document, error) {
	if !b.built {
		return nil, ErrNotBuilt
	}
	return profile.Document(cloneRecord(b.merged)), nil
}

// Export writes the merged document as indented JSON, with the final
// fingerprint under _fingerprint so the output can be reloaded as a base layer.
func (b *Builder) Export(w io.Writer) error {
	doc, err := b.Merged()
	if err != nil {
		return err
	}
	doc[profile.FingerprintKey] = map[string]any(b.fingerprint)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export merged configuration: %w", err)
	}
	return nil
}

// Chrome120 builds the stock base + chrome_120 configuration.
func Chrome120(ctx context.Context, store profile.Store, logger *zap.Logger) (*Builder, error) {
	return Preset(ctx, store, logger, "ecma_standard", "chrome_120")
}

// Chrome120WithAkamai builds Chrome120 plus the akamai site layer.
func Chrome120WithAkamai(ctx context.Context, store profile.Store, logger *zap.Logger) (*Builder, error) {
	return Preset(ctx, store, logger, "ecma_standard", "chrome_120", "akamai")
}

// Preset loads base, an optional browser and any site layers, then builds.
func Preset(ctx context.Context, store profile.Store, logger *zap.Logger, base, browser string, sites ...string) (*Builder, error) {
	b := New(store, logger)
	if err := b.LoadBase(ctx, base); err != nil {
		return nil, err
	}
	if browser != "" {
		if err := b.LoadBrowser(ctx, browser); err != nil {
			return nil, err
		}
	}
	for _, site := range sites {
		if err := b.LoadSite(ctx, site); err != nil {
			return nil, err
		}
	}
	if err := b.Build(); err != nil {
		return nil, err
	}
	return b, nil
}
