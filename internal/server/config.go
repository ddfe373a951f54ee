package server

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the complete server configuration.
type Config struct {
	Server Settings     `hcl:"server,block"`
	Game   GameSettings `hcl:"game,block"`
}

// Settings holds the listener and logging options.
type Settings struct {
	Address   string `hcl:"address,optional"`
	Port      int    `hcl:"port,optional"`
	LogLevel  string `hcl:"log_level,optional"`
	WSAddress string `hcl:"ws_address,optional"` // empty disables the WebSocket listener
}

// GameSettings fixes the rules of the single session this process hosts.
type GameSettings struct {
	Players       int   `hcl:"players,optional"`
	IncludeHonors *bool `hcl:"include_honors,optional"`
	Seed          int64 `hcl:"seed,optional"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	honors := true
	return &Config{
		Server: Settings{
			Address:  "localhost",
			Port:     12345,
			LogLevel: "info",
		},
		Game: GameSettings{
			Players:       4,
			IncludeHonors: &honors,
		},
	}
}

// LoadConfig loads configuration from an HCL file, falling back to defaults
// when the file does not exist.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var cfg Config
	diags = gohcl.DecodeBody(file.Body, nil, &cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 12345
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Game.Players == 0 {
		cfg.Game.Players = 4
	}
	if cfg.Game.IncludeHonors == nil {
		honors := true
		cfg.Game.IncludeHonors = &honors
	}

	return &cfg, nil
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Game.Players < 2 || c.Game.Players > 4 {
		return fmt.Errorf("players must be between 2 and 4, got %d", c.Game.Players)
	}
	return nil
}

// ListenAddress returns the TCP listener address.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
