package config

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset() {
	instance = nil
	once = sync.Once{}
	loadErr = nil
}

func TestGetUninitialized(t *testing.T) {
	reset()

	assert.Panics(t, func() {
		Get()
	}, "Get() should panic if configuration is not initialized")
}

func TestLoadAndGet(t *testing.T) {
	reset()

	yamlConfig := []byte(`
profiles:
  browser: chrome_120
  sites: [akamai]
  bundles: [akamai]
  sqlite_path: /tmp/profiles.db
session:
  url: https://example.com/
  timeout: 5s
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	require.NoError(t, Load(v))

	cfg := Get()
	require.NotNil(t, cfg)
	assert.Equal(t, "ecma_standard", cfg.Profiles.Base, "default applies")
	assert.Equal(t, []string{"akamai"}, cfg.Profiles.Sites)
	assert.Equal(t, []string{"akamai"}, cfg.Profiles.Bundles)
	assert.Equal(t, "/tmp/profiles.db", cfg.Profiles.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.Session.Timeout)
	assert.Equal(t, "green", cfg.Logger.Colors.Info)

	// Subsequent loads do not replace the instance.
	v2 := viper.New()
	SetDefaults(v2)
	v2.Set("session.url", "https://other.example/")
	require.NoError(t, Load(v2))
	assert.Same(t, cfg, Get())
	assert.Equal(t, "https://example.com/", Get().Session.URL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	reset()
	t.Cleanup(reset)

	v := viper.New()
	SetDefaults(v)
	v.Set("session.timeout", "0s")

	err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.timeout")
	assert.Panics(t, func() { Get() })
}

func TestNewAndSet(t *testing.T) {
	reset()
	t.Cleanup(reset)

	v := viper.New()
	SetDefaults(v)
	v.Set("profiles.sites", []string{"akamai"})

	cfg, err := New(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"akamai"}, cfg.Profiles.Sites)
	assert.Equal(t, "about:blank", cfg.Session.URL)

	Set(cfg)
	assert.Same(t, cfg, Get())

	v.Set("profiles.base", "")
	_, err = New(v)
	assert.ErrorContains(t, err, "profiles.base")
}

func TestConfigValidation(t *testing.T) {
	valid := Config{
		Profiles: ProfilesConfig{Base: "ecma_standard"},
		Session:  SessionConfig{Timeout: time.Second},
	}

	testCases := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing base", mutate: func(c *Config) { c.Profiles.Base = "" }, errorMsg: "profiles.base"},
		{name: "negative timeout", mutate: func(c *Config) { c.Session.Timeout = -time.Second }, errorMsg: "session.timeout"},
		{
			name: "two stores",
			mutate: func(c *Config) {
				c.Profiles.PostgresURL = "postgres://localhost/profiles"
				c.Profiles.SQLitePath = "profiles.db"
			},
			errorMsg: "mutually exclusive",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errorMsg)
		})
	}
}
