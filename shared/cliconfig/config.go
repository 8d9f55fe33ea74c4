// Package cliconfig implements the persistent settings cmd/cti loads on
// startup: a default WLM override, a scratch-directory override, and the
// named remote nodes the ssh driver dials when no real workload manager is
// present. Serialized as YAML under a per-user config directory.
package cliconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/common-tools-interface/cti/shared/api"
)

// Remote is one named ssh-driver target, addressable from the CLI as
// "cti launch --remote=frontend01 ...".
type Remote struct {
	Hostname string `yaml:"hostname"`
	User     string `yaml:"user,omitempty"`
	KeyPath  string `yaml:"key-path,omitempty"`
}

// Config holds cmd/cti's persistent settings, loaded from
// $CTI_CFG_DIR/config.yaml (falling back to a default search order when
// unset).
type Config struct {
	// DefaultWLM overrides runtime WLM auto-detection (CTI_WLM_IMPL), e.g.
	// "slurm", "pals", "ssh".
	DefaultWLM string `yaml:"default-wlm,omitempty"`

	// ScratchDir overrides the remote-side base directory Session
	// sandboxes nest under (default "/tmp").
	ScratchDir string `yaml:"scratch-dir,omitempty"`

	// Remotes names the ssh-driver nodes available when no WLM is
	// detected, keyed by an alias the CLI and --remote flag use.
	Remotes map[string]Remote `yaml:"remotes,omitempty"`

	// Aliases are CLI command shortcuts, e.g. "launch-mpi: launch --wlm=slurm".
	Aliases map[string]string `yaml:"aliases,omitempty"`

	// ConfigDir is the directory config.yaml itself was loaded from; not
	// serialized.
	ConfigDir string `yaml:"-"`
}

// DefaultDir returns the directory cmd/cti loads config.yaml from absent an
// explicit --config flag: $CTI_CFG_DIR if set, else $HOME/.cti.
func DefaultDir() string {
	if dir := os.Getenv("CTI_CFG_DIR"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".cti"
	}

	return filepath.Join(home, ".cti")
}

// WLMType resolves DefaultWLM to an api.WLMType, or api.WLMUnknown if unset
// or unrecognized (leaving auto-detection to take over).
func (c *Config) WLMType() api.WLMType {
	return api.ParseWLMType(c.DefaultWLM)
}

// ConfigPath joins paths onto this Config's directory.
func (c *Config) ConfigPath(paths ...string) string {
	return filepath.Join(append([]string{c.ConfigDir}, paths...)...)
}

// Load reads config.yaml from dir, returning an empty Config (not an error)
// if the file does not exist, since a fresh CTI installation has no
// persistent settings yet.
func Load(dir string) (*Config, error) {
	cfg := &Config{ConfigDir: dir}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.ConfigDir = dir

	return cfg, nil
}

// Save writes cfg back to dir/config.yaml, creating dir mode 0700 if
// needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.ConfigDir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.ConfigPath("config.yaml"), data, 0o600)
}
