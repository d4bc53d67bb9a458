package preview

import (
	"errors"
	"time"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusBuilding   Status = "building"
	StatusMounting   Status = "mounting"
	StatusInstalling Status = "installing"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusError      Status = "error"
)

// State is the lifecycle as seen by the UI. URL is set only while running
// and Error only in the error status.
type State struct {
	Status Status `json:"status"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

var ErrReadyTimeout = errors.New("dev server did not become ready in time")

type Config struct {
	InstallCommand    []string      `yaml:"install_command" json:"install_command"`
	DevCommand        []string      `yaml:"dev_command" json:"dev_command"`
	ReadyTimeout      time.Duration `yaml:"ready_timeout" json:"ready_timeout"`
	KillGrace         time.Duration `yaml:"kill_grace" json:"kill_grace"`
	MountWaitRetries  int           `yaml:"mount_wait_retries" json:"mount_wait_retries"`
	MountWaitInterval time.Duration `yaml:"mount_wait_interval" json:"mount_wait_interval"`
}

func DefaultConfig() Config {
	return Config{
		InstallCommand:    []string{"npm", "install"},
		DevCommand:        []string{"npm", "run", "dev"},
		ReadyTimeout:      2 * time.Minute,
		KillGrace:         5 * time.Second,
		MountWaitRetries:  15,
		MountWaitInterval: 300 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.InstallCommand) == 0 {
		c.InstallCommand = def.InstallCommand
	}
	if len(c.DevCommand) == 0 {
		c.DevCommand = def.DevCommand
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = def.ReadyTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = def.KillGrace
	}
	if c.MountWaitRetries <= 0 {
		c.MountWaitRetries = def.MountWaitRetries
	}
	if c.MountWaitInterval <= 0 {
		c.MountWaitInterval = def.MountWaitInterval
	}
	return c
}
