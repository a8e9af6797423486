package egraph

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is a map of keyword to arbitrary data to specify configurations via keyword.
// Keys are case-sensitive and values are whatever the TOML decoder or caller supplied.
type Config map[string]interface{}

// Set assigns a value to a key, allocating the map if necessary.
func (c *Config) Set(key string, value interface{}) {
	if *c == nil {
		*c = make(Config)
	}
	(*c)[key] = value
}

// GetString returns a string value for the key.  The found flag is false if the
// key was not set.
func (c Config) GetString(key string) (s string, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	var ok bool
	if s, ok = v.(string); !ok {
		err = fmt.Errorf("%q setting must be a string (%v)", key, v)
	}
	return
}

// GetInt returns an int value for the key.  TOML integers decode as int64 and
// JSON numbers as float64, so both are accepted.
func (c Config) GetInt(key string) (i int, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	switch x := v.(type) {
	case int:
		i = x
	case int32:
		i = int(x)
	case int64:
		i = int(x)
	case uint32:
		i = int(x)
	case float64:
		i = int(x)
		if float64(i) != x {
			err = fmt.Errorf("%q setting must be an integer (%v)", key, v)
		}
	default:
		err = fmt.Errorf("%q setting must be an integer (%v)", key, v)
	}
	return
}

// GetInt64 is like GetInt but for values that may exceed an int, e.g., timestamps.
func (c Config) GetInt64(key string) (i int64, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	switch x := v.(type) {
	case int:
		i = int64(x)
	case int64:
		i = x
	case float64:
		i = int64(x)
	default:
		err = fmt.Errorf("%q setting must be an integer (%v)", key, v)
	}
	return
}

// GetBool returns a bool value for the key.
func (c Config) GetBool(key string) (b bool, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	var ok bool
	if b, ok = v.(bool); !ok {
		err = fmt.Errorf("%q setting must be a bool (%v)", key, v)
	}
	return
}

// StoreConfig is a store-specific configuration where each store implementation
// defines the types of parameters it accepts.
type StoreConfig struct {
	Config

	// Engine is the name of the registered engine that should back the graph.
	Engine string
}

// GetAll returns all settings of the store configuration.
func (sc StoreConfig) GetAll() Config {
	return sc.Config
}

type tomlConfig struct {
	Store   map[string]interface{}
	Logging LogConfig
}

// LoadConfig reads a TOML file with a [store] table and an optional [logging]
// table.  A relative store path or log file is resolved against the directory
// of the TOML file.
func LoadConfig(filename string) (StoreConfig, LogConfig, error) {
	var tc tomlConfig
	if filename == "" {
		return StoreConfig{}, LogConfig{}, fmt.Errorf("no TOML configuration file provided")
	}
	if _, err := toml.DecodeFile(filename, &tc); err != nil {
		return StoreConfig{}, LogConfig{}, fmt.Errorf("could not decode TOML config: %v", err)
	}
	return tc.storeConfig(filepath.Dir(filename))
}

// DecodeConfig is like LoadConfig but parses TOML text directly.  Relative paths
// are resolved against dir.
func DecodeConfig(data, dir string) (StoreConfig, LogConfig, error) {
	var tc tomlConfig
	if _, err := toml.Decode(data, &tc); err != nil {
		return StoreConfig{}, LogConfig{}, fmt.Errorf("could not decode TOML config: %v", err)
	}
	return tc.storeConfig(dir)
}

func (tc tomlConfig) storeConfig(dir string) (StoreConfig, LogConfig, error) {
	sc := StoreConfig{Config: make(Config, len(tc.Store))}
	for k, v := range tc.Store {
		sc.Config[k] = v
	}
	engine, _, err := sc.GetString("engine")
	if err != nil {
		return sc, tc.Logging, err
	}
	sc.Engine = engine
	delete(sc.Config, "engine")

	path, found, err := sc.GetString("path")
	if err != nil {
		return sc, tc.Logging, err
	}
	if found && path != "" && !filepath.IsAbs(path) {
		sc.Config["path"] = filepath.Join(dir, path)
	}
	if tc.Logging.Logfile != "" && !filepath.IsAbs(tc.Logging.Logfile) {
		tc.Logging.Logfile = filepath.Join(dir, tc.Logging.Logfile)
	}
	return sc, tc.Logging, nil
}
