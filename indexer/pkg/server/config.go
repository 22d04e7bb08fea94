package server

import (
	"errors"
	"time"

	"github.com/giveconomy/givstream/indexer/pkg/indexer"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
	IndexerConfig  indexer.Config
}

func (cfg *Config) Validate() error {
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if err := cfg.IndexerConfig.Validate(); err != nil {
		return err
	}
	return nil
}
