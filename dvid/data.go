package dvid

import "fmt"

// Config is a map of keyword to arbitrary data to specify configurations via keyword.
// Keys are case-sensitive and TOML tables decode directly into a Config.
type Config map[string]interface{}

// GetString returns a string value for the given key.  If the setting is not found,
// found is false.  An error is returned if the setting is not a string.
func (c Config) GetString(key string) (s string, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	var ok bool
	if s, ok = v.(string); !ok {
		err = fmt.Errorf("setting %q must be a string (%v)", key, v)
	}
	return
}

// GetBool returns a bool value for the given key.
func (c Config) GetBool(key string) (b bool, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	var ok bool
	if b, ok = v.(bool); !ok {
		err = fmt.Errorf("setting %q must be a bool (%v)", key, v)
	}
	return
}

// GetInt returns an int value for the given key.  TOML decodes integers as int64, so
// all integer widths are accepted.
func (c Config) GetInt(key string) (i int, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	switch n := v.(type) {
	case int:
		i = n
	case int64:
		i = int(n)
	case int32:
		i = int(n)
	case uint64:
		i = int(n)
	case float64:
		i = int(n)
	default:
		err = fmt.Errorf("setting %q must be an integer (%v)", key, v)
	}
	return
}

// StoreConfig is a store-specific configuration where each store implementation
// defines the types of parameters it accepts.
type StoreConfig struct {
	Config

	// Engine is a simple name describing the engine, e.g., "badger"
	Engine string
}
