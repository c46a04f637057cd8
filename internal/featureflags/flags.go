// Package featureflags holds the runtime switches operators use to degrade the
// locator while a provider or backend misbehaves.
package featureflags

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Well-known flag keys.
const (
	// FlagDisableDeviceLocation rejects device fixes so visitors fall back to zip codes.
	FlagDisableDeviceLocation = "disable_device_location"

	// FlagCachedOnlyStations answers station lookups from cache and never calls the directory.
	FlagCachedOnlyStations = "cached_only_stations"

	// FlagDisableSearchEvents stops publishing search events.
	FlagDisableSearchEvents = "disable_search_events"

	// FlagStationResultLimit caps the stations returned per search.
	FlagStationResultLimit = "station_result_limit"
)

var (
	// ErrFlagNotFound is returned by repositories for a key they do not hold.
	ErrFlagNotFound = errors.New("feature flag not found")

	// ErrUnknownFlag is returned when setting a key with no definition.
	ErrUnknownFlag = errors.New("unknown feature flag")

	// ErrInvalidValue is returned when a value does not match the flag's kind.
	ErrInvalidValue = errors.New("invalid feature flag value")
)

// Kind is the value type of a flag.
type Kind string

const (
	KindBool Kind = "bool"
	KindInt  Kind = "int"
)

// Definition describes a flag the locator understands.
type Definition struct {
	Key         string
	Kind        Kind
	Default     any
	Description string
}

var definitions = map[string]Definition{
	FlagDisableDeviceLocation: {
		Key:         FlagDisableDeviceLocation,
		Kind:        KindBool,
		Default:     false,
		Description: "Reject device location fixes; visitors must enter a zip code.",
	},
	FlagCachedOnlyStations: {
		Key:         FlagCachedOnlyStations,
		Kind:        KindBool,
		Default:     false,
		Description: "Serve stations from cache only.",
	},
	FlagDisableSearchEvents: {
		Key:         FlagDisableSearchEvents,
		Kind:        KindBool,
		Default:     false,
		Description: "Stop publishing search events.",
	},
	FlagStationResultLimit: {
		Key:         FlagStationResultLimit,
		Kind:        KindInt,
		Default:     50,
		Description: "Maximum stations returned per search.",
	},
}

// Lookup returns the definition of key.
func Lookup(key string) (Definition, bool) {
	d, ok := definitions[key]
	return d, ok
}

// Definitions returns every known definition sorted by key.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Normalize converts v to the definition's kind. JSON numbers arrive as
// float64 and are accepted for int flags when they hold a whole value.
func (d Definition) Normalize(v any) (any, error) {
	switch d.Kind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n == math.Trunc(n) && math.Abs(n) <= math.MaxInt32 {
				return int(n), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s wants %s, got %v", ErrInvalidValue, d.Key, d.Kind, v)
}

// Flag is the current value of one flag.
type Flag struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FlagList is the body of GET /v1/ops/flags.
type FlagList struct {
	Items []Flag `json:"items"`
}

// Bool returns the flag as a boolean, or def for a nil flag or another kind.
func (f *Flag) Bool(def bool) bool {
	if f == nil {
		return def
	}
	if b, ok := f.Value.(bool); ok {
		return b
	}
	return def
}

// Int returns the flag as an int, or def for a nil flag or another kind.
func (f *Flag) Int(def int) int {
	if f == nil {
		return def
	}
	switch n := f.Value.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return def
}

// DefaultFlags returns every definition at its default value.
func DefaultFlags() map[string]*Flag {
	now := time.Now().UTC()
	out := make(map[string]*Flag, len(definitions))
	for key, d := range definitions {
		out[key] = &Flag{Key: key, Value: d.Default, UpdatedAt: now}
	}
	return out
}
