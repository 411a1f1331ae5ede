package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the paper trader.
type Config struct {
	StartingCapital     float64 `yaml:"starting_capital"`
	BankruptcyThreshold float64 `yaml:"bankruptcy_threshold"`
	BenchmarkSymbol     string  `yaml:"benchmark_symbol"`
	TradingMode         string  `yaml:"trading_mode"`

	Watchlist []string `yaml:"watchlist"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	LLM            LLMConfig            `yaml:"llm"`
	Audit          AuditConfig          `yaml:"audit"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	MarketData     MarketDataConfig     `yaml:"market_data"`
}

// CircuitBreakerConfig controls automatic trading halts on drawdown.
type CircuitBreakerConfig struct {
	DailyLossThreshold        float64 `yaml:"daily_loss_threshold"`
	ConsecutiveLossLimit      int     `yaml:"consecutive_loss_limit"`
	AutoConservativeOnTrigger bool    `yaml:"auto_conservative_on_trigger"`
	PauseHours                int     `yaml:"pause_hours"`
}

// LLMConfig configures the model query orchestrator.
type LLMConfig struct {
	BaseURL       string        `yaml:"base_url"`
	ModelPriority []string      `yaml:"model_priority"`
	SystemPrompt  string        `yaml:"system_prompt"`
	Timeout       time.Duration `yaml:"timeout"`
}

// AuditConfig configures the on-disk decision audit trail.
type AuditConfig struct {
	LogsDir       string `yaml:"logs_dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// LedgerConfig configures the SQLite paper-trading ledger.
type LedgerConfig struct {
	DBPath string `yaml:"db_path"`
}

// MarketDataConfig configures the quote refresher.
type MarketDataConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DefaultSystemPrompt is sent alongside every model query unless overridden
// in config. The response format must stay in sync with types.DecisionResponse.
const DefaultSystemPrompt = `You are an autonomous AI trading agent managing a virtual portfolio. Your goal is to MAXIMIZE RETURNS through disciplined trading decisions based on technical analysis.

CRITICAL RULES:
1. You make ALL decisions autonomously - no human confirmation needed
2. Deploy capital when signals support it; idle cash earns nothing
3. You operate until the portfolio is declared bankrupt
4. Mental stop-loss: 5%, take-profit: 15%

DECISION FRAMEWORK:
1. Prioritize confluence signals (multiple indicators agreeing)
2. Cut losses early on positions without supporting signals
3. Let winners run while confluence remains strong

RESPONSE FORMAT:
You MUST respond with ONLY valid JSON, no other text. Format:
{
  "decisions": [
    {
      "action": "BUY" | "SELL" | "HOLD",
      "symbol": "TICKER",
      "quantity_percent": 0-100 (percent of available cash for BUY, percent of position for SELL),
      "confidence": 0.0-1.0,
      "reasoning": "Detailed explanation of why this decision was made",
      "prediction": {
        "direction": "bullish" | "bearish" | "neutral",
        "price_target": 123.45,
        "timeframe_days": 5
      }
    }
  ],
  "market_outlook": "Brief overall market assessment",
  "session_notes": "Any relevant notes about this trading session"
}`

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated with working defaults.
func Default() *Config {
	return &Config{
		StartingCapital:     1_000_000,
		BankruptcyThreshold: 1_000,
		BenchmarkSymbol:     "SPY",
		TradingMode:         "normal",
		Watchlist:           []string{"SPY", "QQQ", "NVDA", "AAPL", "MSFT"},
		CircuitBreaker: CircuitBreakerConfig{
			DailyLossThreshold:        -10.0,
			ConsecutiveLossLimit:      5,
			AutoConservativeOnTrigger: true,
			PauseHours:                1,
		},
		LLM: LLMConfig{
			BaseURL: "http://localhost:11434",
			ModelPriority: []string{
				"deepseek-v3.2:cloud",
				"gpt-oss:120b-cloud",
				"qwen3:235b",
			},
			SystemPrompt: DefaultSystemPrompt,
			Timeout:      120 * time.Second,
		},
		Audit: AuditConfig{
			LogsDir:       "ai_logs",
			RetentionDays: 30,
		},
		Ledger: LedgerConfig{
			DBPath: "trader.db",
		},
		MarketData: MarketDataConfig{
			RefreshInterval: 5 * time.Minute,
		},
	}
}

// Validate checks the config for values that would break the trader at runtime.
func (c *Config) Validate() error {
	if c.StartingCapital <= 0 {
		return fmt.Errorf("starting_capital must be positive, got %.2f", c.StartingCapital)
	}
	if c.BankruptcyThreshold < 0 {
		return fmt.Errorf("bankruptcy_threshold must not be negative, got %.2f", c.BankruptcyThreshold)
	}
	if c.BankruptcyThreshold >= c.StartingCapital {
		return fmt.Errorf("bankruptcy_threshold %.2f must be below starting_capital %.2f",
			c.BankruptcyThreshold, c.StartingCapital)
	}
	if c.BenchmarkSymbol == "" {
		return fmt.Errorf("benchmark_symbol must not be empty")
	}
	if len(c.LLM.ModelPriority) == 0 {
		return fmt.Errorf("llm.model_priority must list at least one model")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url must not be empty")
	}
	if c.CircuitBreaker.DailyLossThreshold >= 0 {
		return fmt.Errorf("circuit_breaker.daily_loss_threshold must be negative, got %.2f",
			c.CircuitBreaker.DailyLossThreshold)
	}
	if c.CircuitBreaker.ConsecutiveLossLimit <= 0 {
		return fmt.Errorf("circuit_breaker.consecutive_loss_limit must be positive, got %d",
			c.CircuitBreaker.ConsecutiveLossLimit)
	}
	if c.Audit.LogsDir == "" {
		return fmt.Errorf("audit.logs_dir must not be empty")
	}
	if c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.db_path must not be empty")
	}
	return nil
}
