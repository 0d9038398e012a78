// Package config loads BitLab's runtime configuration from a JSON file with
// environment-variable overrides, the same pattern the teacher repo uses
// for its database config (internal/database.LoadConfig).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitlab-net/bitlab/internal/codec"
)

// Network selects the Bitcoin network a session talks to.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Config holds the options spec.md §6 recognizes, plus the Postgres DSN
// fields needed by the peer store.
type Config struct {
	Network           Network `json:"network"`
	HandshakeTimeoutS int     `json:"handshake_timeout_s"`
	MaxFrameBytes     int     `json:"max_frame_bytes"`
	UserAgent         string  `json:"user_agent"`

	DBHost     string `json:"db_host"`
	DBPort     int    `json:"db_port"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBName     string `json:"db_name"`
}

// Default returns the configuration spec.md §6 names as defaults.
func Default() Config {
	return Config{
		Network:           Mainnet,
		HandshakeTimeoutS: 10,
		MaxFrameBytes:     codec.DefaultMaxFrameBytes,
		UserAgent:         "/BitLab:0.1/",
	}
}

// Load reads path as JSON over the defaults, then applies environment
// overrides. A missing file is not an error: the defaults are used as-is,
// matching how an operator might run BitLab with no db configured.
func Load(path string) (Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BITLAB_NETWORK"); v != "" {
		cfg.Network = Network(v)
	}
	if v := os.Getenv("BITLAB_HANDSHAKE_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HandshakeTimeoutS = n
		}
	}
	if v := os.Getenv("BITLAB_MAX_FRAME_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxFrameBytes = n
		}
	}
	if v := os.Getenv("BITLAB_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DBPort = n
		}
	}
}

// Magic returns the network magic for cfg.Network, drawn from
// btcsuite/btcd's chaincfg parameter tables rather than a hand-rolled
// constant — the teacher already imported chaincfg for exactly this
// network-parameter concern.
func (c Config) Magic() uint32 {
	switch c.Network {
	case Testnet:
		return uint32(chaincfg.TestNet3Params.Net)
	default:
		return uint32(chaincfg.MainNetParams.Net)
	}
}

// DefaultPort returns the conventional P2P port for cfg.Network.
func (c Config) DefaultPort() uint16 {
	switch c.Network {
	case Testnet:
		port, _ := strconv.Atoi(chaincfg.TestNet3Params.DefaultPort)
		return uint16(port)
	default:
		port, _ := strconv.Atoi(chaincfg.MainNetParams.DefaultPort)
		return uint16(port)
	}
}
