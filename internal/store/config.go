package store

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/loomorch/loom/internal/loomerr"
)

// WorkspaceConfig is the parsed content of config.toml: the active plan
// binding plus daemon-wide defaults. Stage- and plan-level overrides take
// priority over these (§4.G.3).
type WorkspaceConfig struct {
	ActivePlan string `toml:"active_plan"`
	RepoRoot   string `toml:"repo_root"`

	MaxParallelSessions int    `toml:"max_parallel_sessions"`
	PollIntervalMS      int    `toml:"poll_interval_ms"`
	StatusIntervalMS    int    `toml:"status_update_interval_ms"`
	AutoMergeDefault    bool   `toml:"auto_merge_default"`
	ForceNoMerge        bool   `toml:"force_no_merge"`
	Backend             string `toml:"backend"`
}

// DefaultWorkspaceConfig returns the built-in defaults used when
// config.toml is absent or a field is unset.
func DefaultWorkspaceConfig() WorkspaceConfig {
	return WorkspaceConfig{
		MaxParallelSessions: 3,
		PollIntervalMS:      2000,
		StatusIntervalMS:    10000,
		AutoMergeDefault:    true,
		Backend:             "terminal",
	}
}

// PollInterval and StatusInterval convert the millisecond fields into
// time.Duration for the Orchestrator.
func (c WorkspaceConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c WorkspaceConfig) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalMS) * time.Millisecond
}

// LoadConfig reads config.toml from root, falling back to defaults for any
// unset field and for a wholly missing file.
func LoadConfig(root string) (WorkspaceConfig, error) {
	cfg := DefaultWorkspaceConfig()
	path := root + "/config.toml"
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, loomerr.IO("store.LoadConfig", "read "+path, err)
	}

	var onDisk WorkspaceConfig
	md, err := toml.Decode(string(data), &onDisk)
	if err != nil {
		return cfg, loomerr.Validation("store.LoadConfig", "parse config.toml", err)
	}
	mergeConfig(&cfg, onDisk)
	if !md.IsDefined("auto_merge_default") {
		cfg.AutoMergeDefault = DefaultWorkspaceConfig().AutoMergeDefault
	}
	return cfg, nil
}

// mergeConfig overlays non-zero fields of onDisk onto base; the two
// booleans are copied as decoded, and LoadConfig restores the auto-merge
// default when the file leaves auto_merge_default unset.
func mergeConfig(base *WorkspaceConfig, onDisk WorkspaceConfig) {
	if onDisk.ActivePlan != "" {
		base.ActivePlan = onDisk.ActivePlan
	}
	if onDisk.RepoRoot != "" {
		base.RepoRoot = onDisk.RepoRoot
	}
	if onDisk.MaxParallelSessions != 0 {
		base.MaxParallelSessions = onDisk.MaxParallelSessions
	}
	if onDisk.PollIntervalMS != 0 {
		base.PollIntervalMS = onDisk.PollIntervalMS
	}
	if onDisk.StatusIntervalMS != 0 {
		base.StatusIntervalMS = onDisk.StatusIntervalMS
	}
	base.AutoMergeDefault = onDisk.AutoMergeDefault
	base.ForceNoMerge = onDisk.ForceNoMerge
	if onDisk.Backend != "" {
		base.Backend = onDisk.Backend
	}
}

// SaveConfig writes cfg to root/config.toml atomically.
func SaveConfig(root string, cfg WorkspaceConfig) error {
	f, err := os.CreateTemp(root, ".tmp-config-*")
	if err != nil {
		return loomerr.IO("store.SaveConfig", "create temp", err)
	}
	tmpName := f.Name()
	defer os.Remove(tmpName)

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return loomerr.IO("store.SaveConfig", "encode", err)
	}
	if err := f.Close(); err != nil {
		return loomerr.IO("store.SaveConfig", "close", err)
	}
	return os.Rename(tmpName, root+"/config.toml")
}
