package server

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/labelset/datatype/common/downres"
	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

const (
	// DefaultWebAddress is the default address of the labelset web server.
	DefaultWebAddress = "localhost:8000"

	// DefaultShutdownDelay is the default number of seconds to let requests finish on shutdown.
	DefaultShutdownDelay = 5
)

// DefaultHost is the default most understandable alias for this server.
var DefaultHost = "localhost"

func init() {
	// Assumes Linux or Mac.
	cmd := exec.Command("/bin/hostname", "-f")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		dvid.Debugf("Unable to get default Host name via /bin/hostname: %v\n", err)
		return
	}
	if host := strings.TrimSpace(out.String()); host != "" {
		DefaultHost = host
	}
}

// Config is a parsed TOML server configuration.
type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	Logging    dvid.LogConfig
	Pyramid    PyramidConfig
	Source     SourceConfig
	Store      map[string]dvid.Config
	Cache      CacheConfig
	Groupcache storage.GroupcacheConfig
	Kafka      storage.KafkaConfig
	Mutations  MutationsConfig
	Keyvalue   map[string]string // exposed keyvalue name -> store alias
}

// ServerConfig is the [server] section.
type ServerConfig struct {
	HTTPAddress    string   `toml:"httpAddress"`
	Host           string   `toml:"host"`
	Note           string   `toml:"note"`
	CorsDomains    []string `toml:"corsDomains"`
	MaxConnections int      `toml:"maxConnections"` // zero is unlimited
	ShutdownDelay  int      `toml:"shutdownDelay"`  // seconds
}

// AuthConfig is the [auth] section.  An empty secret key disables authorization.
type AuthConfig struct {
	SecretKey string `toml:"secret_key"`
}

// PyramidConfig is the [pyramid] section.  Stores lists the store alias caching each level
// above 0, so Stores[L-1] caches level L.
type PyramidConfig struct {
	BlockSize   dvid.Point3d   `toml:"block_size"`
	Factors     []dvid.Point3d `toml:"factors"`
	Workers     int            `toml:"workers"`
	Stores      []string       `toml:"stores"`
	Compression string         `toml:"compression"`
}

// LoaderConfig returns the downres configuration of the pyramid.
func (c PyramidConfig) LoaderConfig() downres.Config {
	return downres.Config{
		BlockSize: c.BlockSize,
		Factors:   c.Factors,
		Workers:   c.Workers,
	}
}

// SourceConfig is the [source] section describing the raw label volume.  The default
// "chunked" format reads label chunks written by this server.  The "precomputed" format
// reads one scale of a neuroglancer precomputed segmentation whose info file is at the
// root of the store, and ignores the chunk size, bounds and compression settings.
type SourceConfig struct {
	Store       string       `toml:"store"`
	Format      string       `toml:"format"`
	Scale       int          `toml:"scale"` // precomputed scale index
	ChunkSize   dvid.Point3d `toml:"chunk_size"`
	Min         dvid.Point3d `toml:"min"`
	Max         dvid.Point3d `toml:"max"` // inclusive
	Compression string       `toml:"compression"`
}

// CacheConfig is the [cache] section.
type CacheConfig struct {
	FreecacheMB int `toml:"freecache_mb"` // in-process cache per level; zero disables
}

// StoreConfig returns the engine configuration of a store alias.
func (c *Config) StoreConfig(alias string) (dvid.StoreConfig, error) {
	sc, found := c.Store[alias]
	if !found {
		return dvid.StoreConfig{}, fmt.Errorf("store %q is not configured", alias)
	}
	engine, found, err := sc.GetString("engine")
	if err != nil {
		return dvid.StoreConfig{}, fmt.Errorf("store %q: %v", alias, err)
	}
	if !found || engine == "" {
		return dvid.StoreConfig{}, fmt.Errorf("store %q has no engine", alias)
	}
	return dvid.StoreConfig{Config: sc, Engine: engine}, nil
}

// Host returns the most understandable host alias plus any port.
func (c *Config) Host() string {
	host := c.Server.Host
	if host == "" {
		host = DefaultHost
	}
	parts := strings.Split(c.Server.HTTPAddress, ":")
	if len(parts) > 1 {
		host = host + ":" + parts[len(parts)-1]
	}
	return host
}

func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = DefaultWebAddress
	}
	if c.Server.ShutdownDelay == 0 {
		c.Server.ShutdownDelay = DefaultShutdownDelay
	}
	if c.Source.Format == "" {
		c.Source.Format = "chunked"
	}
}

// check verifies references between sections.
func (c *Config) check() error {
	if len(c.Pyramid.Stores) != len(c.Pyramid.Factors) {
		return fmt.Errorf("[pyramid] has %d factors but %d stores", len(c.Pyramid.Factors), len(c.Pyramid.Stores))
	}
	// levels share a key space, so each level needs its own store.
	used := make(map[string]int, len(c.Pyramid.Stores))
	for i, alias := range c.Pyramid.Stores {
		if level, dup := used[alias]; dup {
			return fmt.Errorf("store %q caches both level %d and level %d", alias, level, i+1)
		}
		used[alias] = i + 1
		if _, err := c.StoreConfig(alias); err != nil {
			return err
		}
	}
	if _, found := used[c.Source.Store]; found {
		return fmt.Errorf("source store %q is also a pyramid store", c.Source.Store)
	}
	if _, err := c.StoreConfig(c.Source.Store); err != nil {
		return fmt.Errorf("[source]: %v", err)
	}
	for name, alias := range c.Keyvalue {
		if _, err := c.StoreConfig(alias); err != nil {
			return fmt.Errorf("[keyvalue] %q: %v", name, err)
		}
	}
	if _, err := dvid.ParseCompression(c.Pyramid.Compression); err != nil {
		return fmt.Errorf("[pyramid]: %v", err)
	}
	if _, err := dvid.ParseCompression(c.Source.Compression); err != nil {
		return fmt.Errorf("[source]: %v", err)
	}
	switch c.Source.Format {
	case "chunked":
		if !c.Source.ChunkSize.Positive() {
			return fmt.Errorf("[source] needs a positive chunk_size, got %s", c.Source.ChunkSize)
		}
	case "precomputed":
	default:
		return fmt.Errorf("[source] has unknown format %q", c.Source.Format)
	}
	return nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error

	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = dvid.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path")
		}
	}

	// [mutations].jsonstore
	if c.Mutations.Jsonstore != "" {
		c.Mutations.Jsonstore, err = dvid.ConvertToAbsolute(c.Mutations.Jsonstore, configDir)
		if err != nil {
			return fmt.Errorf("error converting jsonstore setting to absolute path")
		}
	}

	// [store.foobar].path
	for alias, sc := range c.Store {
		p, ok := sc["path"]
		if !ok {
			continue
		}
		path, ok := p.(string)
		if !ok {
			return fmt.Errorf("don't understand path setting for store %q", alias)
		}
		absPath, err := dvid.ConvertToAbsolute(path, configDir)
		if err != nil {
			return fmt.Errorf("error converting store.%s.path to absolute path: %q", alias, path)
		}
		sc["path"] = absPath
	}
	return nil
}

// ParseConfig validates and decodes a TOML configuration.  Relative paths are left as is.
func ParseConfig(content string) (*Config, error) {
	if err := validateConfig(content); err != nil {
		return nil, err
	}
	var c Config
	if _, err := toml.Decode(content, &c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	c.setDefaults()
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadConfig loads a server configuration from a TOML file.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no server TOML configuration file provided")
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	c, err := ParseConfig(string(content))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", filename, err)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	return c, nil
}
