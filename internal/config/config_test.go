package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ome-policy/internal/config"
)

const sampleConfig = `
defaults:
  policy_query_key: policy
  signature_query_key: signature
  url_ttl: 1h
  require_url_expire: true
profiles:
  local:
    base_url: ws://localhost:3333/app/stream
    secret_key: ome_is_the_best
  edge:
    base_url: rtmp://edge:1935/app/name
    secret_key: fallback
    secret_key_env: EDGE_SECRET
    policy_query_key: p
    signature_query_key: s
    require_url_expire: false
    validate_allow_ip: true
    stream_ttl: 12h
    allow_ip: 10.0.0.0/8
  broken:
    secret_key: x
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestProfile_DefaultsApplied(t *testing.T) {
	f, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	p, err := f.Profile("local")
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name)
	assert.Equal(t, "ws://localhost:3333/app/stream", p.BaseURL)
	assert.Equal(t, "ome_is_the_best", p.SecretKey)
	assert.Equal(t, "policy", p.PolicyQueryKey)
	assert.Equal(t, "signature", p.SignatureQueryKey)
	assert.Equal(t, time.Hour, p.URLTTL)
	assert.Zero(t, p.StreamTTL)
	assert.True(t, p.Options.RequireURLExpire)
	assert.False(t, p.Options.ValidateAllowIP)

	sc := p.SignerConfig()
	assert.Equal(t, "policy", sc.PolicyQueryKey)
	assert.True(t, sc.Options.RequireURLExpire)
}

func TestProfile_Overrides(t *testing.T) {
	f, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	p, err := f.Profile("edge")
	require.NoError(t, err)
	assert.Equal(t, "p", p.PolicyQueryKey)
	assert.Equal(t, "s", p.SignatureQueryKey)
	assert.False(t, p.Options.RequireURLExpire, "explicit false must override default true")
	assert.True(t, p.Options.ValidateAllowIP)
	assert.Equal(t, time.Hour, p.URLTTL)
	assert.Equal(t, 12*time.Hour, p.StreamTTL)
	assert.Equal(t, "10.0.0.0/8", p.AllowIP)
	assert.Equal(t, "fallback", p.SecretKey)

	t.Setenv("EDGE_SECRET", "from-env")
	p, err = f.Profile("edge")
	require.NoError(t, err)
	assert.Equal(t, "from-env", p.SecretKey)
}

func TestProfile_Errors(t *testing.T) {
	f, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	_, err = f.Profile("missing")
	assert.ErrorIs(t, err, config.ErrProfileNotFound)

	_, err = f.Profile("broken")
	assert.ErrorIs(t, err, config.ErrProfileIncomplete)
	assert.Contains(t, err.Error(), "base_url")
}

func TestProfile_DefaultFieldNames(t *testing.T) {
	f, err := config.Parse([]byte("profiles:\n  a:\n    base_url: ws://h/a/s\n    secret_key: k\n"))
	require.NoError(t, err)

	p, err := f.Profile("a")
	require.NoError(t, err)
	assert.Equal(t, "policy", p.PolicyQueryKey)
	assert.Equal(t, "signature", p.SignatureQueryKey)
}

func TestParse_Invalid(t *testing.T) {
	_, err := config.Parse([]byte("profiles: [not, a, map]"))
	assert.Error(t, err)

	f, err := config.Parse([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, f.Names())
}

func TestNames_Sorted(t *testing.T) {
	f, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "edge", "local"}, f.Names())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	f, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Profiles, 3)

	_, err = config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("POLICYGEN_CONFIG", "/etc/policygen.yaml")
	t.Setenv("POLICYGEN_SECRET_KEY", "s3cr3t")

	e, err := config.LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "/etc/policygen.yaml", e.ConfigPath)
	assert.Equal(t, "s3cr3t", e.SecretKey)
	assert.Equal(t, "default", e.Profile)
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "/custom.yaml", config.ResolveConfigPath("/custom.yaml"))

	t.Setenv("POLICYGEN_HOME", "/opt/policygen")
	assert.Equal(t, filepath.Join("/opt/policygen", "config.yaml"), config.ResolveConfigPath(""))
}

func TestResolve_SkipsCompletenessCheck(t *testing.T) {
	f, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	p, err := f.Resolve("broken")
	require.NoError(t, err)
	assert.Empty(t, p.BaseURL)
	assert.Equal(t, time.Hour, p.URLTTL)
	assert.ErrorIs(t, p.Validate(), config.ErrProfileIncomplete)

	_, err = f.Resolve("missing")
	assert.ErrorIs(t, err, config.ErrProfileNotFound)

	d := f.DefaultsOnly("default")
	assert.Equal(t, "default", d.Name)
	assert.True(t, d.Options.RequireURLExpire)
	assert.Equal(t, "policy", d.PolicyQueryKey)
}
