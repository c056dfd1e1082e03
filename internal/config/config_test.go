package config

import (
	"testing"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func baseEnv() env.EnvSet {
	return env.EnvSet{
		"JWT_SECRET":         "s3cret",
		"GATEWAY_APP_ID":     "1",
		"GATEWAY_APP_KEY":    "app-key",
		"GATEWAY_APP_SECRET": "app-secret",
	}
}

func TestFromEnvSet_Defaults(t *testing.T) {
	cfg, err := FromEnvSet(baseEnv())
	require.NoError(t, err)
	require.Equal(t, ":8008", cfg.HTTPAddr)
	require.Equal(t, 24*time.Hour, cfg.JWTTTL)
	require.Equal(t, "ws", cfg.Gateway.Scheme)
	require.Equal(t, 6001, cfg.Gateway.Port)
	require.Equal(t, "http://127.0.0.1:6001", cfg.Gateway.HTTPBaseURL())
}

func TestFromEnvSet_MissingSecret(t *testing.T) {
	es := baseEnv()
	delete(es, "GATEWAY_APP_SECRET")
	_, err := FromEnvSet(es)
	require.Error(t, err)
}

func TestFromEnvSet_BadScheme(t *testing.T) {
	es := baseEnv()
	es["GATEWAY_SCHEME"] = "http"
	_, err := FromEnvSet(es)
	require.ErrorContains(t, err, "GATEWAY_SCHEME")
}

func TestGatewayPublic_OmitsSecret(t *testing.T) {
	es := baseEnv()
	es["GATEWAY_SCHEME"] = "wss"
	es["GATEWAY_HOST"] = "rt.example.org"
	es["GATEWAY_PORT"] = "443"
	cfg, err := FromEnvSet(es)
	require.NoError(t, err)

	pub := cfg.Gateway.Public()
	require.Equal(t, Public{Host: "rt.example.org", Port: 443, Scheme: "wss", Key: "app-key"}, pub)
	require.Equal(t, "https://rt.example.org:443", cfg.Gateway.HTTPBaseURL())
}
