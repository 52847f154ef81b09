package swift

import (
	"fmt"

	"github.com/blang/semver"
	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

const (
	// The storage driver identifier for the Openstack Swift engine.
	engineName = "swift"

	// The Swift engine's current version.
	engineVersion = "0.1.0"
)

func init() {
	// Register this engine.
	storage.RegisterEngine(Engine{})
}

// Engine implements storage.Engine for the Openstack Swift backend.
type Engine struct{}

func (e Engine) String() string {
	return fmt.Sprintf(`Swift engine "%s" version %s`, engineName, engineVersion)
}

// GetName returns the storage driver identifier.
func (e Engine) GetName() string {
	return engineName
}

// GetDescription returns a short description of the engine.
func (e Engine) GetDescription() string {
	return "Openstack Swift object store"
}

// GetSemVer returns the engine's current version.
func (e Engine) GetSemVer() semver.Version {
	return semver.MustParse(engineVersion)
}

// NewStore returns a new Swift storage engine given the passed configuration.
func (e Engine) NewStore(config dvid.StoreConfig) (storage.Store, error) {
	return NewStore(config)
}
