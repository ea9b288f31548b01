package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfiles(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"EXPLORATORY", "FAST", "STANDARD", "STRICT"}, cfg.ProfileNames())
	assert.Equal(t, "STANDARD", cfg.DefaultProfile)

	std, ok := cfg.Profile("STANDARD")
	require.True(t, ok)
	assert.True(t, std.Flags.RequireTraderReview)
	assert.Equal(t, 1.0, std.ThresholdPct())

	fast, ok := cfg.Profile("FAST")
	require.True(t, ok)
	assert.False(t, fast.Flags.RequireTraderReview)
	assert.True(t, fast.Flags.BlockReleaseOnAgentFail)

	strict, _ := cfg.Profile("STRICT")
	assert.Equal(t, 0.5, strict.ThresholdPct())

	_, ok = cfg.Profile("NOPE")
	assert.False(t, ok)
	assert.Equal(t, 14, cfg.Sharing.InviteTTLDays)
	assert.False(t, cfg.InviteCodeValid(""))
}

func TestThresholdDefaultsWhenUnset(t *testing.T) {
	assert.Equal(t, DefaultMetricDriftThresholdPct, Profile{}.ThresholdPct())
}

func TestFromYAMLValidation(t *testing.T) {
	cases := map[string]string{
		"no profiles": `default_profile: X`,
		"unknown default": `default_profile: X
profiles:
  A:
    agent_budget: {max_tokens: 1, max_cost_usd: 1}`,
		"zero budget": `profiles:
  A:
    agent_budget: {max_tokens: 0, max_cost_usd: 1}`,
		"negative threshold": `profiles:
  A:
    agent_budget: {max_tokens: 1, max_cost_usd: 1}
    replay: {metric_drift_threshold_pct: -1}`,
		"webhook without url": `profiles:
  A:
    agent_budget: {max_tokens: 1, max_cost_usd: 1}
webhooks:
  - events: [run.created]`,
		"bad yaml": `profiles: [`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}

	cfg, err := FromYAML([]byte(`profiles:
  A:
    agent_budget: {max_tokens: 1, max_cost_usd: 1}
bots:
  invite_codes: [TRIAL-1]`))
	require.NoError(t, err)
	assert.True(t, cfg.InviteCodeValid("TRIAL-1"))
	assert.False(t, cfg.InviteCodeValid("TRIAL-2"))
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Profiles, 4)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tnxgate.yml"), []byte(`default_profile: ONLY
profiles:
  ONLY:
    agent_budget: {max_tokens: 10, max_cost_usd: 0.5}
`), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"ONLY"}, cfg.ProfileNames())
	assert.Equal(t, filepath.Join(".", "tnxgate.yml"), Path(""))
}

func TestSettingsDefaultsAndValidation(t *testing.T) {
	v := NewViper()
	s, err := LoadSettings(v, "")
	require.NoError(t, err)
	assert.Equal(t, "/v1", s.HTTP.BasePath)
	assert.Equal(t, 8, s.Dispatch.Lanes)

	err = s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWTSecret")

	s.Auth.JWTSecret = "0123456789abcdef"
	require.NoError(t, s.Validate())

	s.Secrets.Provider = "aws"
	err = s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SecretName")
}

func TestSettingsFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nhttp:\n  addr: 0.0.0.0:9000\n"), 0o644))
	t.Setenv("TNXGATE_AUTH_JWT_SECRET", "from-environment-secret")

	s, err := LoadSettings(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "0.0.0.0:9000", s.HTTP.Addr)
	assert.Equal(t, "from-environment-secret", s.Auth.JWTSecret)

	_, err = LoadSettings(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSecretOverlay(t *testing.T) {
	overlay, err := parseSecretData(&secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(`{"jwt_secret":"overlay-secret-value","agent_api_key":"ak"}`),
	})
	require.NoError(t, err)

	var s Settings
	s.Auth.JWTSecret = "original"
	overlaySecrets(&s, overlay)
	assert.Equal(t, "overlay-secret-value", s.Auth.JWTSecret)
	assert.Equal(t, "ak", s.Agent.APIKey)

	overlaySecrets(&s, &SecretsOverlay{})
	assert.Equal(t, "overlay-secret-value", s.Auth.JWTSecret)

	_, err = parseSecretData(&secretsmanager.GetSecretValueOutput{SecretBinary: []byte("not json")})
	assert.Error(t, err)
	_, err = parseSecretData(&secretsmanager.GetSecretValueOutput{})
	assert.Error(t, err)
}
