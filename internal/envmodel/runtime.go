package envmodel

// UndefinedValue marks a JavaScript undefined result. Implementations return
// Undefined rather than nil when the host must observe undefined, not null.
type UndefinedValue struct{}

// Undefined is the single UndefinedValue.
var Undefined = UndefinedValue{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(UndefinedValue)
	return ok
}

// Injection declares one property to be created directly on a live host object.
type Injection struct {
	Type  string
	Value any
}

// Resolve returns the value the injected property should hold.
func (i Injection) Resolve() any {
	switch i.Type {
	case "", "undefined":
		return Undefined
	case "null":
		return nil
	default:
		return i.Value
	}
}

// Injections maps a host object name (window, navigator, ...) to its injected properties.
type Injections map[string]map[string]Injection

// Cache is the small per-session runtime cache (current cookie string and
// anything else implementations need to remember). It is owned by a single
// session and is not safe for concurrent use.
type Cache struct {
	values map[string]any
}

const cookieKey = "cookie"

// NewCache returns an empty cache with the cookie slot initialized to "".
func NewCache() *Cache {
	return &Cache{values: map[string]any{cookieKey: ""}}
}

// Get returns the value stored under key.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key.
func (c *Cache) Set(key string, value any) {
	c.values[key] = value
}

// Cookie returns the current cookie string.
func (c *Cache) Cookie() string {
	s, _ := c.values[cookieKey].(string)
	return s
}

// SetCookie replaces the current cookie string.
func (c *Cache) SetCookie(v string) {
	c.values[cookieKey] = v
}
