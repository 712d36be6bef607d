package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("CLAIM_TTL", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 2*time.Minute, cfg.ClaimTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KEEPER_INTERVAL", "250ms")
	t.Setenv("KEEPER_WORKERS", "9")
	t.Setenv("ENABLE_FAUCET", "false")
	t.Setenv("CORS_ORIGINS", " http://a , ,http://b ")
	t.Setenv("VENUE_FEE_BPS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.KeeperInterval)
	assert.Equal(t, 9, cfg.KeeperWorkers)
	assert.False(t, cfg.EnableFaucet)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.CORSOrigins)
	assert.Equal(t, 30.0, cfg.VenueFeeBps)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"postgres without url": func(c *Config) { c.DBDriver = "postgres"; c.DBURL = "" },
		"unknown driver":       func(c *Config) { c.DBDriver = "mysql" },
		"router without rpc":   func(c *Config) { c.UseRouterQuotes = true; c.RPCURL = "" },
		"short claim":          func(c *Config) { c.ClaimTTL = time.Second },
		"empty jwt secret":     func(c *Config) { c.JWTSecret = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{DBDriver: "sqlite", DBPath: "x.db", ClaimTTL: time.Minute, JWTSecret: "s"}
			require.NoError(t, cfg.Validate())
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
