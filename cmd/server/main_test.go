package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/object-log/object-log/internal/config"
)

func TestParseCreateUserArgs(t *testing.T) {
	opts, err := parseCreateUserArgs([]string{"-email", "root@example.com", "-superuser", "root"})
	require.NoError(t, err)
	assert.Equal(t, "root", opts.username)
	assert.Equal(t, "root@example.com", opts.email)
	assert.True(t, opts.superuser)
}

func TestParseCreateUserArgs_Invalid(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"a", "b"},
		{"-bogus", "root"},
		{"   "},
	} {
		_, err := parseCreateUserArgs(args)
		assert.Error(t, err, "args %q", args)
	}
}

func TestParseIssueTokenArgs(t *testing.T) {
	opts, err := parseIssueTokenArgs([]string{"alice"}, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "alice", opts.username)
	assert.Equal(t, 24*time.Hour, opts.ttl)

	opts, err = parseIssueTokenArgs([]string{"-ttl", "15m", "alice"}, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, opts.ttl)
}

func TestParseIssueTokenArgs_Invalid(t *testing.T) {
	_, err := parseIssueTokenArgs(nil, time.Hour)
	assert.Error(t, err)

	_, err = parseIssueTokenArgs([]string{"-ttl", "-1h", "alice"}, time.Hour)
	assert.Error(t, err)
}

func TestNeedsRedis(t *testing.T) {
	cfg := &config.Config{}
	assert.False(t, needsRedis(cfg))

	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.Backend = "memory"
	assert.False(t, needsRedis(cfg))

	cfg.Security.RateLimiting.Backend = "redis"
	assert.True(t, needsRedis(cfg))

	cfg = &config.Config{}
	cfg.Shipping.Enabled = true
	cfg.Shipping.Shippers = []config.ShipperConfig{{Enabled: false, Type: "redis"}}
	assert.False(t, needsRedis(cfg))

	cfg.Shipping.Shippers[0].Enabled = true
	assert.True(t, needsRedis(cfg))
}

func TestRun_VersionNeedsNoConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")
	assert.NoError(t, run([]string{"version"}))
}
