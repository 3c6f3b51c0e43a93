// Package config assembles the node's configuration: defaults are
// applied first, then a TOML file is loaded over them, then command-line
// flags override both — mirroring katzenpost-client/config/config.go's
// load-then-validate shape, using the teacher's go-flags dependency for
// the flag layer.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	flags "github.com/jessevdk/go-flags"
)

// SURBBalancerConfig mirrors surbbalancer.Config's shape for TOML/flag
// binding; internal/config does not import internal/surbbalancer to
// avoid a dependency cycle with the composition root, which translates
// between the two.
type SURBBalancerConfig struct {
	TargetSURBBufferSize int     `long:"target-surb-buffer-size" toml:"target_surb_buffer_size" description:"target remaining-SURB count to maintain at peers"`
	MaxSURBsPerSec       float64 `long:"max-surbs-per-sec" toml:"max_surbs_per_sec" description:"cap on SURBs scheduled per second"`
}

// Config is the node's full configuration surface.
type Config struct {
	DataDir    string `long:"datadir" toml:"data_dir" description:"directory holding the SQLite database and replay filter dump"`
	ListenAddr string `long:"listen" toml:"listen_addr" description:"address to listen for peer connections on"`

	MinTicketAmount uint64  `long:"min-ticket-amount" toml:"min_ticket_amount" description:"minimum ticket amount this node accepts"`
	MinWinProb      float64 `long:"min-win-prob" toml:"min_win_prob" description:"minimum ticket win probability this node accepts"`
	DomainSeparator string  `long:"domain-separator" toml:"domain_separator" description:"chain-specific ticket domain separator, used as raw string bytes"`

	OutgoingTicketAmount uint64  `long:"outgoing-ticket-amount" toml:"outgoing_ticket_amount" description:"amount this node issues on tickets it mints for the next hop"`
	OutgoingWinProb      float64 `long:"outgoing-win-prob" toml:"outgoing_win_prob" description:"win probability this node issues on tickets it mints for the next hop"`

	SessionIdleTimeout time.Duration `long:"session-idle-timeout" toml:"session_idle_timeout" description:"duration of inactivity before a session is reaped"`
	SessionOpenTimeout time.Duration `long:"session-open-timeout" toml:"session_open_timeout" description:"duration to wait for a peer's open confirmation"`

	SURBBalancer SURBBalancerConfig `group:"surbbalancer" toml:"surb_balancer"`

	HeartbeatIntervalSec  uint `long:"heartbeat-interval-sec" toml:"heartbeat_interval_sec" description:"heartbeat round interval in seconds"`
	HeartbeatVarianceSec  uint `long:"heartbeat-variance-sec" toml:"heartbeat_variance_sec" description:"heartbeat round jitter in seconds"`
	HeartbeatThresholdSec uint `long:"heartbeat-threshold-sec" toml:"heartbeat_threshold_sec" description:"peer freshness threshold in seconds"`

	LogLevel string `long:"log-level" toml:"log_level" description:"logging level for all subsystems"`
}

// Default returns the configuration's production defaults, applied
// before a config file or flags are consulted.
func Default() *Config {
	return &Config{
		DataDir:    "./data",
		ListenAddr: "0.0.0.0:10000",

		MinTicketAmount: 1,
		MinWinProb:      1.0,

		OutgoingTicketAmount: 1,
		OutgoingWinProb:      1.0,

		SessionIdleTimeout: 5 * time.Minute,
		SessionOpenTimeout: 30 * time.Second,

		SURBBalancer: SURBBalancerConfig{
			TargetSURBBufferSize: 10,
			MaxSURBsPerSec:       100,
		},

		HeartbeatIntervalSec:  60,
		HeartbeatVarianceSec:  10,
		HeartbeatThresholdSec: 300,

		LogLevel: "info",
	}
}

// Load applies defaults, overlays a TOML config file (if tomlPath is
// non-empty), then overlays command-line args on top.
func Load(tomlPath string, args []string) (*Config, error) {
	cfg := Default()

	if tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", tomlPath, err)
		}
	}

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the core cannot safely run with.
func (c *Config) Validate() error {
	if c.MinWinProb < 0 || c.MinWinProb > 1 {
		return fmt.Errorf("config: min_win_prob must be in [0,1], got %f", c.MinWinProb)
	}
	if c.OutgoingWinProb < 0 || c.OutgoingWinProb > 1 {
		return fmt.Errorf("config: outgoing_win_prob must be in [0,1], got %f", c.OutgoingWinProb)
	}
	if c.SURBBalancer.TargetSURBBufferSize < 0 {
		return fmt.Errorf("config: target_surb_buffer_size must be >= 0")
	}
	if c.SURBBalancer.MaxSURBsPerSec <= 0 {
		return fmt.Errorf("config: max_surbs_per_sec must be > 0")
	}
	return nil
}
