// Package collection implements the dual-mode document.all style handler: a
// host collection that can be read as a snapshot or invoked with an index or
// a name.
package collection

import "math"

// InvokeTag marks a call-style invocation. Dispatch("INVOKE", arg) behaves
// like Dispatch(arg).
const InvokeTag = "INVOKE"

// Source supplies the live elements of the emulated document.
type Source interface {
	// Elements returns every element in document order, current at call time.
	Elements() []any
	ElementByID(id string) (any, bool)
	ElementsByName(name string) []any
}

// Result is the outcome of one dispatch. When All is set Snapshot holds every
// element; otherwise Element is valid only if Found.
type Result struct {
	All      bool
	Snapshot []any
	Element  any
	Found    bool
}

// Handler answers index, name and snapshot lookups against a Source.
type Handler struct {
	src Source
}

// New returns a handler over src.
func New(src Source) *Handler {
	return &Handler{src: src}
}

// Dispatch is the single entry point. It accepts a bare argument, no argument,
// or InvokeTag followed by an optional argument.
func (h *Handler) Dispatch(args ...any) Result {
	if len(args) > 0 {
		if tag, ok := args[0].(string); ok && tag == InvokeTag {
			args = args[1:]
		}
	}
	if len(args) == 0 || args[0] == nil {
		return Result{All: true, Snapshot: h.All()}
	}

	switch arg := args[0].(type) {
	case string:
		el, ok := h.NamedItem(arg)
		return Result{Element: el, Found: ok}
	default:
		idx, ok := ordinal(arg)
		if !ok {
			return Result{}
		}
		el, ok := h.Item(idx)
		return Result{Element: el, Found: ok}
	}
}

// All returns a fresh snapshot of every element.
func (h *Handler) All() []any {
	return h.src.Elements()
}

// Item returns the element at ordinal index.
func (h *Handler) Item(index int) (any, bool) {
	all := h.src.Elements()
	if index < 0 || index >= len(all) {
		return nil, false
	}
	return all[index], true
}

// NamedItem returns the element whose id matches, else the first element whose name matches.
func (h *Handler) NamedItem(name string) (any, bool) {
	if el, ok := h.src.ElementByID(name); ok {
		return el, true
	}
	if byName := h.src.ElementsByName(name); len(byName) > 0 {
		return byName[0], true
	}
	return nil, false
}

func ordinal(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float32:
		return ordinal(float64(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
