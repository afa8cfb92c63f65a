package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/deriv-trading/agent/internal/models"
)

// Config is the full application configuration. Secrets (APP_ID,
// DERIV_TOKEN) never live in the YAML file — they are layered in from
// the environment or a .env file after the file is parsed.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Trading   TradingConfig   `yaml:"trading"`
	Risk      RiskConfig      `yaml:"risk"`
	Session   SessionConfig   `yaml:"session"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
}

// BrokerConfig carries the broker connection identity. AppID and
// Token are populated from the environment, never from YAML.
type BrokerConfig struct {
	AppID string `yaml:"-"`
	Token string `yaml:"-"`
}

// TradingConfig describes what the agent trades and how it sizes and
// brackets each position.
type TradingConfig struct {
	Symbol                string  `yaml:"symbol"`                // e.g. "1HZ100V"
	PrimaryTimeframe       int     `yaml:"primaryTimeframe"`      // seconds; drives the SMA cluster
	StakeAmount            float64 `yaml:"stakeAmount"`           // USD; not read: the risk guardian sizes each stake from balance
	Multiplier             int     `yaml:"multiplier"`            // MULTUP/MULTDOWN multiplier
	TakeProfitMultiplier   float64 `yaml:"takeProfitMultiplier"`  // broker-side backstop TP, as a multiple of stake
	StopLossMultiplier     float64 `yaml:"stopLossMultiplier"`    // broker-side backstop SL, as a multiple of stake
	TakeProfitPoints       float64 `yaml:"takeProfitPoints"`      // engine-side TP, fixed points from entry price
	StopLossPoints         float64 `yaml:"stopLossPoints"`        // engine-side SL, fixed points from entry price
	TickLimit              int     `yaml:"tickLimit"`             // not read: the train detector's buffer is fixed at five ticks
	SqueezeThreshold       float64 `yaml:"squeezeThreshold"`      // not read by any component
}

// RiskConfig parameterizes the guardian chain: session gate, daily
// cap, train detector, drawdown killswitch, and position sizing.
type RiskConfig struct {
	DailyCapUSD              float64 `yaml:"dailyCapUSD"`
	TrainDeltaThreshold       float64 `yaml:"trainDeltaThreshold"`
	TrainPauseMinutes         int     `yaml:"trainPauseMinutes"`
	CooldownMinutesCrossover  int     `yaml:"cooldownMinutesCrossover"`
	KillswitchDrawdownPct     float64 `yaml:"killswitchDrawdownPct"`
	KillswitchWindowHours     int     `yaml:"killswitchWindowHours"`
	RiskFraction              float64 `yaml:"riskFraction"` // fraction of equity risked per trade
}

// SessionConfig bounds the hours (UTC) the agent is allowed to open
// new positions, plus the weekly maintenance blackout.
type SessionConfig struct {
	StartUTCHour int `yaml:"startUTCHour"`
	EndUTCHour   int `yaml:"endUTCHour"`
}

// DatabaseConfig points at the SQLite persistence file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig configures the optional read-only status surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads path as YAML, applies defaults for anything left zero,
// then layers APP_ID/DERIV_TOKEN from the environment (loading envPath
// as a .env file first, if present).
func Load(path, envPath string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := loadSecrets(&cfg, envPath); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns the default configuration with secrets
// layered from the environment, for use when no YAML file is
// supplied.
func DefaultConfig(envPath string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := loadSecrets(cfg, envPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSecrets populates BrokerConfig from the environment. godotenv
// loads envPath into the process environment if it exists; a missing
// .env file is not an error (production deployments set the
// environment directly).
func loadSecrets(cfg *Config, envPath string) error {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return err
			}
		}
	}

	cfg.Broker.AppID = os.Getenv("APP_ID")
	cfg.Broker.Token = os.Getenv("DERIV_TOKEN")

	if cfg.Broker.AppID == "" {
		return models.ErrMissingAppID
	}
	if cfg.Broker.Token == "" {
		return models.ErrMissingToken
	}
	return nil
}

// applyDefaults fills in every field left at its zero value.
func applyDefaults(cfg *Config) {
	if cfg.Trading.Symbol == "" {
		cfg.Trading.Symbol = "1HZ100V"
	}
	if cfg.Trading.PrimaryTimeframe == 0 {
		cfg.Trading.PrimaryTimeframe = 60
	}
	if cfg.Trading.StakeAmount == 0 {
		cfg.Trading.StakeAmount = 10
	}
	if cfg.Trading.Multiplier == 0 {
		cfg.Trading.Multiplier = 100
	}
	if cfg.Trading.TakeProfitMultiplier == 0 {
		cfg.Trading.TakeProfitMultiplier = 2.0
	}
	if cfg.Trading.StopLossMultiplier == 0 {
		cfg.Trading.StopLossMultiplier = 1.0
	}
	if cfg.Trading.TakeProfitPoints == 0 {
		cfg.Trading.TakeProfitPoints = 15.0
	}
	if cfg.Trading.StopLossPoints == 0 {
		cfg.Trading.StopLossPoints = 5.0
	}
	if cfg.Trading.TickLimit == 0 {
		cfg.Trading.TickLimit = 5
	}
	if cfg.Trading.SqueezeThreshold == 0 {
		cfg.Trading.SqueezeThreshold = 0.05
	}

	if cfg.Risk.DailyCapUSD == 0 {
		cfg.Risk.DailyCapUSD = 50
	}
	if cfg.Risk.TrainDeltaThreshold == 0 {
		cfg.Risk.TrainDeltaThreshold = 4.0
	}
	if cfg.Risk.TrainPauseMinutes == 0 {
		cfg.Risk.TrainPauseMinutes = 15
	}
	if cfg.Risk.CooldownMinutesCrossover == 0 {
		cfg.Risk.CooldownMinutesCrossover = 5
	}
	if cfg.Risk.KillswitchDrawdownPct == 0 {
		cfg.Risk.KillswitchDrawdownPct = 4.5
	}
	if cfg.Risk.KillswitchWindowHours == 0 {
		cfg.Risk.KillswitchWindowHours = 24
	}
	if cfg.Risk.RiskFraction == 0 {
		cfg.Risk.RiskFraction = 0.02
	}

	if cfg.Session.StartUTCHour == 0 && cfg.Session.EndUTCHour == 0 {
		cfg.Session.StartUTCHour = 8
		cfg.Session.EndUTCHour = 21
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/agent.db"
	}

	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8090"
	}
}

// Save writes the configuration back out as YAML. Secrets are never
// serialized (BrokerConfig carries yaml:"-" tags throughout).
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
