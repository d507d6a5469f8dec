package profile

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
)

//go:embed defaults
var defaults embed.FS

// Defaults returns the profiles bundled with the binary.
func Defaults() fs.FS {
	sub, err := fs.Sub(defaults, "defaults")
	if err != nil {
		panic(err)
	}
	return sub
}

// FSStore reads documents laid out as <layer>/<name>[.json|.yaml|.yml|.js]
// from a filesystem.
type FSStore struct {
	fsys fs.FS
}

// NewFSStore returns a store rooted at fsys.
func NewFSStore(fsys fs.FS) *FSStore {
	return &FSStore{fsys: fsys}
}

func candidates(layer Layer, name string) []string {
	p := path.Join(string(layer), name)
	if path.Ext(name) != "" {
		return []string{p}
	}
	if layer == LayerBundle {
		return []string{p + ".js"}
	}
	return []string{p + ".json", p + ".yaml", p + ".yml"}
}

// Read implements Store.
func (s *FSStore) Read(ctx context.Context, layer Layer, name string) (Raw, error) {
	if err := ctx.Err(); err != nil {
		return Raw{}, err
	}
	for _, p := range candidates(layer, name) {
		body, err := fs.ReadFile(s.fsys, p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Raw{}, fmt.Errorf("read %s: %w", p, err)
		}
		return Raw{Format: FormatFromPath(p), Body: body}, nil
	}
	return Raw{}, fmt.Errorf("%w: %s/%s", ErrProfileNotFound, layer, name)
}
