/*Package registry holds a table of named, typed process variables.

Each variable has a kind fixed at registration, an optional list of enum
labels with a severity per label, and for buffers and arrays a capacity.
The registry is the only owner of variable values; everything else reads
them back through Get or Read.

A minimal example:

	reg := registry.New()
	err := reg.Register(registry.Definition{
		Name:   "path-valid",
		Kind:   registry.Enum,
		Enums:  []string{"No", "Yes"},
		States: []registry.Severity{registry.Major, registry.NoAlarm},
	})
	...
	err = reg.Set("path-valid", true)
	snap, err := reg.Read("path-valid") // snap.Value == 1, snap.Severity == NoAlarm

Value and severity are always updated together; a reader never sees one
without the other.
*/
package registry

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownVariable is generated when a name is not registered
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrTypeMismatch is generated when a value cannot be represented as the variable's kind
	ErrTypeMismatch = errors.New("value does not match variable kind")

	// ErrCapacityExceeded is generated when a buffer or array is longer than the variable's count
	ErrCapacityExceeded = errors.New("value exceeds variable capacity")

	// ErrReadOnly is generated when an external write targets a read-only variable
	ErrReadOnly = errors.New("variable is read-only")

	// ErrDuplicate is generated when a name is registered twice
	ErrDuplicate = errors.New("variable already registered")
)

// ID is the stable index of a variable, assigned at registration
type ID int

// Definition describes a variable at registration time
type Definition struct {
	// Name is the unique name of the variable
	Name string

	// Kind is the kind of the variable, it never changes
	Kind Kind

	// Enums are the labels of an Enum variable, index == value
	Enums []string

	// States are the alarm severities for each enum value.  May be shorter
	// than Enums, missing entries have no alarm
	States []Severity

	// Count is the capacity of a String, Char, or IntArray variable.  Zero means unbounded
	Count int

	// ReadOnly variables reject external writes
	ReadOnly bool

	// Value is the initial value, nil means the zero value of the kind
	Value interface{}

	// Units is a display unit, e.g. "s"
	Units string

	// Prec is the display precision of a Float variable
	Prec int
}

// Snapshot is the state of a variable at one instant
type Snapshot struct {
	Name      string      `json:"name"`
	Kind      Kind        `json:"kind"`
	Value     interface{} `json:"value"`
	Severity  Severity    `json:"severity"`
	Count     int         `json:"count"`
	Timestamp time.Time   `json:"timestamp"`
}

type entry struct {
	def      Definition
	value    interface{}
	severity Severity
	count    int
	stamp    time.Time
}

// Registry is a concurrent safe table of variables
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	index   map[string]ID

	smu  sync.RWMutex
	subs map[*Subscription]struct{}
}

// New returns an empty registry
func New() *Registry {
	return &Registry{
		index: make(map[string]ID),
		subs:  make(map[*Subscription]struct{}),
	}
}

// Register adds a variable to the registry and returns its ID
func (r *Registry) Register(def Definition) (ID, error) {
	v, err := Convert(def, def.Value)
	if err != nil {
		return -1, errors.Wrapf(err, "registering %s", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[def.Name]; exists {
		return -1, errors.Wrap(ErrDuplicate, def.Name)
	}
	e := &entry{def: def, value: v, count: countOf(v), stamp: time.Now()}
	e.severity = severityOf(def, v)
	id := ID(len(r.entries))
	r.entries = append(r.entries, e)
	r.index[def.Name] = id
	return id, nil
}

// RegisterAll registers each definition in order, stopping at the first error
func (r *Registry) RegisterAll(defs []Definition) error {
	for _, d := range defs {
		if _, err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the ID of a variable
func (r *Registry) Lookup(name string) (ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.index[name]
	if !ok {
		return -1, errors.Wrap(ErrUnknownVariable, name)
	}
	return id, nil
}

// Definition returns the definition a variable was registered with
func (r *Registry) Definition(id ID) (Definition, error) {
	e, err := r.entry(id)
	if err != nil {
		return Definition{}, err
	}
	return e.def, nil
}

// Names lists the registered variables in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.def.Name
	}
	return out
}

func (r *Registry) entry(id ID) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || int(id) >= len(r.entries) {
		return nil, errors.Wrapf(ErrUnknownVariable, "id %d", id)
	}
	return r.entries[id], nil
}

// Get returns the last value written to a variable.  Buffers and arrays are copied.
func (r *Registry) Get(name string) (interface{}, error) {
	s, err := r.Read(name)
	if err != nil {
		return nil, err
	}
	return s.Value, nil
}

// Read returns a snapshot of a variable
func (r *Registry) Read(name string) (Snapshot, error) {
	id, err := r.Lookup(name)
	if err != nil {
		return Snapshot{}, err
	}
	return r.ReadID(id)
}

// ReadID returns a snapshot of a variable by ID
func (r *Registry) ReadID(id ID) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || int(id) >= len(r.entries) {
		return Snapshot{}, errors.Wrapf(ErrUnknownVariable, "id %d", id)
	}
	e := r.entries[id]
	s := e.snapshot()
	s.Value = copyValue(e.value)
	return s, nil
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Name:      e.def.Name,
		Kind:      e.def.Kind,
		Value:     e.value,
		Severity:  e.severity,
		Count:     e.count,
		Timestamp: e.stamp,
	}
}

// Validate converts v to the kind of the variable and checks its capacity
// without storing it.  The returned value is owned by the caller.
func (r *Registry) Validate(id ID, v interface{}) (interface{}, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	out, err := Convert(e.def, v)
	if err != nil {
		return nil, errors.Wrap(err, e.def.Name)
	}
	return out, nil
}

// Set stores a value, updates its severity, and notifies subscribers
func (r *Registry) Set(name string, v interface{}) error {
	id, err := r.Lookup(name)
	if err != nil {
		return err
	}
	return r.SetID(id, v)
}

// SetID is Set by ID
func (r *Registry) SetID(id ID, v interface{}) error {
	val, err := r.Validate(id, v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	e := r.entries[id]
	e.value = val
	e.severity = severityOf(e.def, val)
	e.count = countOf(val)
	e.stamp = time.Now()
	// published under mu so subscribers see changes in the order they were stored
	r.publish(Change{ID: id, Snapshot: e.snapshot()})
	r.mu.Unlock()
	return nil
}

// Int returns the value of an Int or Enum variable
func (r *Registry) Int(name string) (int, error) {
	v, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	i, ok := v.(int)
	if !ok {
		return 0, errors.Wrapf(ErrTypeMismatch, "%s is not an integer", name)
	}
	return i, nil
}

// Float returns the value of a Float or Int variable as a float64
func (r *Registry) Float(name string) (float64, error) {
	v, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	switch f := v.(type) {
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "%s is not a number", name)
}

// Bool returns true if an Enum or Int variable is non-zero
func (r *Registry) Bool(name string) (bool, error) {
	i, err := r.Int(name)
	return i != 0, err
}

// Text returns the value of a String or Char variable as a string
func (r *Registry) Text(name string) (string, error) {
	v, err := r.Get(name)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return "", errors.Wrapf(ErrTypeMismatch, "%s is not text", name)
}

func severityOf(def Definition, v interface{}) Severity {
	if def.Kind != Enum {
		return NoAlarm
	}
	i := v.(int)
	if i < len(def.States) {
		return def.States[i]
	}
	return NoAlarm
}

func countOf(v interface{}) int {
	switch t := v.(type) {
	case []byte:
		return len(t)
	case []int:
		return len(t)
	}
	return 1
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	case []int:
		out := make([]int, len(t))
		copy(out, t)
		return out
	}
	return v
}
