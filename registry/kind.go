package registry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/mcdserver/util"
)

// Kind is the type of a variable
type Kind int

const (
	// Enum is a labeled integer; booleans are two-label enums
	Enum Kind = iota

	// Int is an integer
	Int

	// Float is a float64
	Float

	// String is short text
	String

	// Char is a byte buffer
	Char

	// IntArray is a slice of integers
	IntArray
)

var kindNames = [...]string{"enum", "int", "float", "string", "char", "intarray"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// MarshalText encodes the kind as its name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind from its name
func (k *Kind) UnmarshalText(b []byte) error {
	i, err := nameIndex(kindNames[:], string(b))
	if err != nil {
		return errors.Wrap(err, "kind")
	}
	*k = Kind(i)
	return nil
}

// Severity is the alarm level of a variable's current value
type Severity int

const (
	// NoAlarm is the normal state
	NoAlarm Severity = iota

	// Minor is a warning
	Minor

	// Major is an error
	Major

	// Invalid means the value cannot be trusted
	Invalid
)

var severityNames = [...]string{"NO_ALARM", "MINOR", "MAJOR", "INVALID"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "SEVERITY(" + strconv.Itoa(int(s)) + ")"
	}
	return severityNames[s]
}

// MarshalText encodes the severity as its name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity from its name
func (s *Severity) UnmarshalText(b []byte) error {
	i, err := nameIndex(severityNames[:], string(b))
	if err != nil {
		return errors.Wrap(err, "severity")
	}
	*s = Severity(i)
	return nil
}

func nameIndex(names []string, name string) (int, error) {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return i, nil
		}
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "unknown name %q", name)
}

// Convert coerces a loosely typed value, such as one decoded from JSON, into
// the Go type used for def's kind:
//
//	Enum, Int -> int
//	Float     -> float64
//	String    -> string
//	Char      -> []byte
//	IntArray  -> []int
//
// Enums also accept their labels (case insensitive) and bools.  Slices are
// always copied.  Capacity is checked; an out of range enum index is a type mismatch.
func Convert(def Definition, v interface{}) (interface{}, error) {
	if v == nil {
		v = zero(def.Kind)
	}
	switch def.Kind {
	case Enum:
		i, err := toEnum(def, v)
		if err != nil {
			return nil, err
		}
		if i < 0 || (len(def.Enums) > 0 && i >= len(def.Enums)) {
			return nil, errors.Wrapf(ErrTypeMismatch, "enum index %d out of range [0,%d)", i, len(def.Enums))
		}
		return i, nil
	case Int:
		return toInt(v)
	case Float:
		return toFloat(v)
	case String:
		s, ok := toText(v)
		if !ok {
			return nil, errors.Wrapf(ErrTypeMismatch, "%T is not text", v)
		}
		if def.Count > 0 && len(s) > def.Count {
			return nil, errors.Wrapf(ErrCapacityExceeded, "%d bytes > %d", len(s), def.Count)
		}
		return s, nil
	case Char:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if def.Count > 0 && len(b) > def.Count {
			return nil, errors.Wrapf(ErrCapacityExceeded, "%d bytes > %d", len(b), def.Count)
		}
		return b, nil
	case IntArray:
		a, err := toInts(v)
		if err != nil {
			return nil, err
		}
		if def.Count > 0 && len(a) > def.Count {
			return nil, errors.Wrapf(ErrCapacityExceeded, "%d elements > %d", len(a), def.Count)
		}
		return a, nil
	}
	return nil, errors.Wrapf(ErrTypeMismatch, "unsupported kind %v", def.Kind)
}

func zero(k Kind) interface{} {
	switch k {
	case Float:
		return 0.
	case String:
		return ""
	case Char:
		return []byte{}
	case IntArray:
		return []int{}
	}
	return 0
}

func toEnum(def Definition, v interface{}) (int, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		for i, lbl := range def.Enums {
			if strings.EqualFold(lbl, t) {
				return i, nil
			}
		}
	}
	return toInt(v)
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int8:
		return int(t), nil
	case int16:
		return int(t), nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint8:
		return int(t), nil
	case uint16:
		return int(t), nil
	case uint32:
		return int(t), nil
	case float32:
		return integral(float64(t))
	case float64:
		return integral(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, errors.Wrapf(ErrTypeMismatch, "%q is not a number", t)
		}
		return integral(f)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, errors.Wrapf(ErrTypeMismatch, "%q is not an integer", t)
		}
		return i, nil
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "%T is not an integer", v)
}

func integral(f float64) (int, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, errors.Wrapf(ErrTypeMismatch, "%v is not an integer", f)
	}
	return int(f), nil
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, errors.Wrapf(ErrTypeMismatch, "%q is not a number", t)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.Wrapf(ErrTypeMismatch, "%q is not a number", t)
		}
		return f, nil
	}
	i, err := toInt(v)
	if err != nil {
		return 0, errors.Wrapf(ErrTypeMismatch, "%T is not a number", v)
	}
	return float64(i), nil
}

func toText(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	}
	return "", false
}

func toBytes(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out, nil
	case string:
		return []byte(t), nil
	case []interface{}:
		out := make([]byte, len(t))
		for i, e := range t {
			n, err := toInt(e)
			if err != nil || n < 0 || n > math.MaxUint8 {
				return nil, errors.Wrapf(ErrTypeMismatch, "element %d is not a byte", i)
			}
			out[i] = byte(n)
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrTypeMismatch, "%T is not a byte buffer", v)
}

func toInts(v interface{}) ([]int, error) {
	switch t := v.(type) {
	case []int:
		out := make([]int, len(t))
		copy(out, t)
		return out, nil
	case []interface{}:
		out := make([]int, len(t))
		for i, e := range t {
			n, err := toInt(e)
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			out[i] = n
		}
		return out, nil
	case string:
		out, err := util.CSVToIntSlice(t)
		if err != nil {
			return nil, errors.Wrapf(ErrTypeMismatch, "%q is not a list of integers", t)
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrTypeMismatch, "%T is not an integer array", v)
}

// Label returns the enum label of v, or "" if def is not an Enum or v is out of range
func Label(def Definition, v interface{}) string {
	i, ok := v.(int)
	if def.Kind != Enum || !ok || i < 0 || i >= len(def.Enums) {
		return ""
	}
	return def.Enums[i]
}
