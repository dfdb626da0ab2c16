package main

import "github.com/BurntSushi/toml"

// Config is the on-disk configuration for a cted daemon, read from a
// TOML file at startup.
type Config struct {
	// StorageDir is where final, pending, and scratch files live.
	StorageDir string `toml:"storage_dir"`

	// Port is the TCP port the wire.Server listens on.
	Port string `toml:"port"`

	// TickInterval is how often the engine retries in-progress
	// transfers, as a duration string understood by time.ParseDuration.
	TickInterval string `toml:"tick_interval"`

	// Peers maps a peer name to the base URL of its cted instance.
	Peers map[string]string `toml:"peers"`
}

// DefaultConfig returns the configuration used when no config file is
// given.
func DefaultConfig() Config {
	return Config{
		StorageDir:   ".",
		Port:         "14500",
		TickInterval: "5s",
		Peers:        map[string]string{},
	}
}

func loadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	_, err := toml.DecodeFile(path, &c)
	return c, err
}
