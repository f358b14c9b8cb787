package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"deltayield/internal/logger"
	"deltayield/internal/market"
	"deltayield/internal/scheduler"
	"deltayield/internal/strategy"
	"deltayield/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, NewValidator(cfg).Validate())

	assert.Equal(t, market.ModeSynthetic, cfg.Data.Mode)
	assert.Equal(t, 0.0005, cfg.Simulator.FeeRate)
	assert.Equal(t, 0.001, cfg.Simulator.SlippageRate)
	assert.Equal(t, 8*time.Hour, cfg.Simulator.SettlementInterval)
	assert.Equal(t, 24*time.Hour, cfg.Simulator.FundingPeriod)
	assert.Equal(t, 24, cfg.Predictor.Horizon)
	assert.Equal(t, 0.1, cfg.Predictor.ReversionSpeed)
	assert.Equal(t, 0.02, cfg.Backtest.RiskFreeRate)
	assert.Equal(t, 24*time.Hour, cfg.Backtest.Period)
	assert.Equal(t, 0.2, cfg.Backtest.AIBlendWeight)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadConfig(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	configContent := `
app:
  name: "dnyield-test"
  env: "test"

server:
  port: 9091
  host: "127.0.0.1"

data:
  mode: live
  min_samples: 48
  binance:
    base_url: "https://testnet.binancefuture.com"
    symbols:
      WIF: 1000WIFUSDT

backtest:
  period: 8h
  risk_free_rate: 0.03

schedules:
  - name: nightly-sol
    cron: "0 30 0 * * *"
    strategy_file: configs/strategies/sol_funding.yaml
    lookback_days: 30
    use_ai: true
`
	configPath := suite.CreateTempFile("config.yaml", configContent)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "dnyield-test", cfg.App.Name)
	assert.Equal(t, 9091, cfg.Server.Port)
	assert.Equal(t, market.ModeLive, cfg.Data.Mode)
	assert.Equal(t, 48, cfg.Data.MinSamples)
	assert.Equal(t, "https://testnet.binancefuture.com", cfg.Data.Binance.BaseURL)
	assert.Equal(t, "1000WIFUSDT", cfg.Data.Binance.Symbols["WIF"])
	assert.Equal(t, 8*time.Hour, cfg.Backtest.Period)
	assert.Equal(t, 0.03, cfg.Backtest.RiskFreeRate)

	// untouched sections keep their defaults
	assert.Equal(t, 1500, cfg.Data.Binance.KlineLimit)
	assert.Equal(t, 0.9, cfg.Simulator.AccrualEfficiency)
	assert.Equal(t, 42, int(cfg.Backtest.Seed))

	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, scheduler.JobConfig{
		Name:         "nightly-sol",
		Cron:         "0 30 0 * * *",
		StrategyFile: "configs/strategies/sol_funding.yaml",
		LookbackDays: 30,
		UseAI:        true,
	}, cfg.Schedules[0])

	require.NoError(t, NewValidator(cfg).Validate())
}

func TestLoadConfigErrors(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	_, err := Load(filepath.Join(suite.TempDir, "missing.yaml"))
	assert.Error(t, err)

	bad := suite.CreateTempFile("bad.yaml", "server: [unterminated")
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := suite.CreateTempFile("invalid.yaml", "server:\n  port: 70000\n")
	_, err = LoadAndValidate(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port must be within")
}

func TestLoadConfigWithEnvironmentOverride(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	testutils.SetEnv(t, "DNY_SERVER_PORT", "9090")
	testutils.SetEnv(t, "DNY_DATA_MODE", "live")
	testutils.SetEnv(t, "DNY_REDIS_ADDR", "redis.internal:6380")
	testutils.SetEnv(t, "DNY_REDIS_ENABLED", "true")
	testutils.SetEnv(t, "DNY_LOG_LEVEL", "debug")
	testutils.SetEnv(t, "DNY_BACKTEST_SEED", "7")
	testutils.SetEnv(t, "DNY_PREDICTOR_API_KEY", "plain-key")

	configPath := suite.CreateTempFile("config.yaml", "server:\n  port: 8080\n")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, market.ModeLive, cfg.Data.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, logger.LevelDebug, cfg.Logging.Level)
	assert.Equal(t, int64(7), cfg.Backtest.Seed)
	assert.Equal(t, "plain-key", cfg.Predictor.External.APIKey)
}

func TestEncryptedSecrets(t *testing.T) {
	testutils.SetEnv(t, "DNY_ENCRYPTION_KEY", "correct horse battery staple")

	em := NewEnvManager("", "")
	enc, err := em.Encrypt("sk-live-123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, EncryptedPrefix))
	assert.NotContains(t, enc, "sk-live-123")

	testutils.SetEnv(t, "DNY_PREDICTOR_API_KEY", enc)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", cfg.Predictor.External.APIKey)

	testutils.SetEnv(t, "DNY_REDIS_PASSWORD", "ENC:%%%not-base64")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DNY_REDIS_PASSWORD")
}

func TestLoadEnvFiles(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	envPath := suite.CreateTempFile(".env", "DNY_SERVER_HOST=10.0.0.5\nDNY_APP_ENV=staging\n")
	t.Cleanup(func() {
		os.Unsetenv("DNY_SERVER_HOST")
		os.Unsetenv("DNY_APP_ENV")
	})

	require.NoError(t, LoadEnvFiles(envPath))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Server.Host)
	assert.Equal(t, "staging", cfg.App.Env)

	assert.Error(t, LoadEnvFiles(filepath.Join(suite.TempDir, "absent.env")))
	assert.NoError(t, LoadEnvFiles())
}

func TestEnvManagerTypedGetters(t *testing.T) {
	testutils.SetEnv(t, "TST_COUNT", "12")
	testutils.SetEnv(t, "TST_FLAG", "yes-please")
	testutils.SetEnv(t, "TST_WAIT", "90s")

	em := NewEnvManager("k", "TST_")
	assert.Equal(t, 12, em.GetInt("count", 1))
	assert.Equal(t, 1, em.GetInt("missing", 1))
	assert.True(t, em.GetBool("flag", true), "unparseable bool keeps the default")
	assert.Equal(t, 90*time.Second, em.GetDuration("wait", time.Second))
	assert.Equal(t, "fallback", em.GetString("nothing", "fallback"))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = -1 }, "port must be within"},
		{"empty app name", func(c *Config) { c.App.Name = "" }, "name is required"},
		{"unknown data mode", func(c *Config) { c.Data.Mode = "replay" }, "unknown mode"},
		{"live needs url", func(c *Config) {
			c.Data.Mode = market.ModeLive
			c.Data.Binance.BaseURL = "not a url"
		}, "invalid binance base_url"},
		{"fee out of range", func(c *Config) { c.Simulator.FeeRate = 1.5 }, "fee_rate must be within"},
		{"zero period", func(c *Config) { c.Backtest.Period = 0 }, "period must be positive"},
		{"zero funding period", func(c *Config) { c.Simulator.FundingPeriod = 0 }, "funding_period must be positive"},
		{"thresholds inverted", func(c *Config) { c.Predictor.ShortThreshold = -0.02 }, "short_threshold"},
		{"external without url", func(c *Config) { c.Predictor.External.Enabled = true }, "invalid external url"},
		{"redis without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, "addr is required"},
		{"file log without name", func(c *Config) { c.Logging.Output = "file" }, "filename is required"},
		{"bad schedule", func(c *Config) {
			c.Schedules = []scheduler.JobConfig{{Name: "x", Cron: "nope", StrategyFile: "s.yaml", LookbackDays: 1}}
		}, "invalid cron"},
		{"duplicate schedule", func(c *Config) {
			job := scheduler.JobConfig{Name: "x", Cron: "@daily", StrategyFile: "s.yaml", LookbackDays: 1}
			c.Schedules = []scheduler.JobConfig{job, job}
		}, "duplicate schedule name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := NewValidator(cfg).Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestShippedConfiguration(t *testing.T) {
	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, market.ModeSynthetic, cfg.Data.Mode)
	assert.Len(t, cfg.Schedules, 2)

	files, err := filepath.Glob(filepath.Join("..", "..", "configs", "strategies", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		strat, err := strategy.LoadFile(f)
		require.NoError(t, err, f)
		assert.NoError(t, strat.Validate(), f)
	}
}
