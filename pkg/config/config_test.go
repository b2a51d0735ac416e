package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduguest/guestidp/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "https://guest.idp.example.org", cfg.IdP.EntityID)
	assert.Equal(t, 180*24*time.Hour, cfg.IdP.RememberMeMaxAge)
	assert.True(t, cfg.IdP.SecureCookie)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("GUESTIDP_PORT", "8181")
	t.Setenv("GUESTIDP_STORAGE_TYPE", "postgres")
	t.Setenv("GUESTIDP_POSTGRES_URL", "postgres://localhost/guestidp")
	t.Setenv("GUESTIDP_CERTIFICATE_PATH", "/etc/guestidp/cert.pem")
	t.Setenv("GUESTIDP_PRIVATE_KEY_PATH", "/etc/guestidp/key.pem")
	t.Setenv("GUESTIDP_REMEMBER_ME_MAX_AGE", "720h")
	t.Setenv("GUESTIDP_SECURE_COOKIE", "false")
	t.Setenv("GUESTIDP_LINKING_CONTEXT_CLASS_REFS", "https://a.example.org, https://b.example.org")
	t.Setenv("GUESTIDP_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, 720*time.Hour, cfg.IdP.RememberMeMaxAge)
	assert.False(t, cfg.IdP.SecureCookie)
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"},
		cfg.IdP.LinkingContextClassRefs)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	t.Run("same ports", func(t *testing.T) {
		t.Setenv("GUESTIDP_PORT", "9090")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("GUESTIDP_STORAGE_TYPE", "postgres")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("redis without postgres", func(t *testing.T) {
		t.Setenv("GUESTIDP_STORAGE_TYPE", "redis")
		t.Setenv("GUESTIDP_REDIS_URL", "redis://localhost:6379/0")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("unknown storage type", func(t *testing.T) {
		t.Setenv("GUESTIDP_STORAGE_TYPE", "filesystem")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("postgres without signing material", func(t *testing.T) {
		t.Setenv("GUESTIDP_STORAGE_TYPE", "postgres")
		t.Setenv("GUESTIDP_POSTGRES_URL", "postgres://localhost/guestidp")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}
