package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"metacohort/pkg/federation"
	"metacohort/pkg/remote"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Member.CollectionID)
	assert.Equal(t, cfg.Member.CollectionID, cfg.Member.Name)
	assert.Equal(t, ":7070", cfg.Member.ListenAddress)
	assert.Equal(t, ":7071", cfg.Member.EnterpriseAddress)
	assert.Empty(t, cfg.Peers)
	assert.Equal(t, federation.DefaultAsOfRetries, cfg.Federation.AsOfRetries)
	assert.Equal(t, remote.DefaultCallTimeout, cfg.Remote.CallTimeout)
	assert.Equal(t, federation.DefaultMembershipConfig().ProbeInterval, cfg.Membership.ProbeInterval)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level())
	assert.False(t, cfg.TLS.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "member.yaml", `
member:
  collection_id: cohort-a
  name: Cohort A
  listen_address: 127.0.0.1:7171
peers:
  - cohort-b:7070
  - cohort-c:7070
federation:
  asof_retries: 2
  retry_delay: 250ms
remote:
  call_timeout: 3s
  max_retries: 1
membership:
  probe_interval: 1m
  suspect_after: 2
  dead_after: 4
log_level: debug
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "cohort-a", cfg.Member.CollectionID)
	assert.Equal(t, "Cohort A", cfg.Member.Name)
	assert.Equal(t, "127.0.0.1:7171", cfg.Member.ListenAddress)
	assert.Equal(t, []string{"cohort-b:7070", "cohort-c:7070"}, cfg.Peers)
	assert.Equal(t, 2, cfg.Federation.AsOfRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Federation.RetryDelay)
	assert.Equal(t, 3*time.Second, cfg.Remote.CallTimeout)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level())

	ms := cfg.MembershipConfig()
	assert.Equal(t, time.Minute, ms.ProbeInterval)
	assert.Equal(t, 2, ms.SuspectAfter)
	assert.Equal(t, 4, ms.DeadAfter)
	assert.Equal(t, "metacohort", ms.UserID)

	assert.Equal(t, 1, cfg.RetryConfig().MaxRetries)
	assert.Len(t, cfg.FederationOptions(), 2)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("METACOHORT_MEMBER_COLLECTION_ID", "from-env")
	t.Setenv("METACOHORT_PEERS", "a:7070,b:7070,a:7070")
	t.Setenv("METACOHORT_REMOTE_COOLDOWN", "5s")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Member.CollectionID)
	assert.Equal(t, []string{"a:7070", "b:7070"}, cfg.Peers)
	assert.Equal(t, 5*time.Second, cfg.PoolConfig().Cooldown)
}

func TestFlagsOverrideEverything(t *testing.T) {
	t.Setenv("METACOHORT_MEMBER_LISTEN_ADDRESS", ":8080")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("listen", ":7070", "")
	require.NoError(t, flags.Parse([]string{"--listen", ":9191"}))

	v := New()
	require.NoError(t, BindFlags(v, flags, map[string]string{"listen": "member.listen_address"}))
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.Member.ListenAddress)

	assert.Error(t, BindFlags(v, flags, map[string]string{"missing": "member.name"}))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "suspect after dead",
			body:    "membership:\n  suspect_after: 5\n  dead_after: 2\n",
			wantErr: "membership.suspect_after (5) exceeds membership.dead_after (2)",
		},
		{
			name:    "negative retries",
			body:    "federation:\n  asof_retries: -1\n",
			wantErr: "federation.asof_retries must not be negative",
		},
		{
			name:    "bad log level",
			body:    "log_level: chatty\n",
			wantErr: "log_level",
		},
		{
			name:    "tls without certificates",
			body:    "tls:\n  enabled: true\n",
			wantErr: "tls: CA certificate path is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(New(), writeConfig(t, "member.yaml", tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})
}
