package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	require := require.New(t)

	cfg := Default()
	require.NoError(cfg.Validate())
	require.EqualValues(1000, cfg.Scores.Base)
	require.EqualValues(10000, cfg.Scores.Max)
	require.Equal(48*time.Hour, cfg.Federation.ActorRefreshInterval)
	require.Equal(Job{Concurrency: 1, Attempts: 5, TTL: 10 * time.Minute}, cfg.Job("activitypub-follow"))
	require.Equal(Job{Concurrency: 30, Attempts: 1, TTL: 10 * time.Minute}, cfg.Job("activitypub-http-unicast"))
	require.Zero(cfg.Job("activitypub-inbox").TTL)
	require.Equal(Database{MaxOpenConns: 100, MaxIdleConns: 10, ConnMaxLifetime: time.Hour}, cfg.Database)
	require.Equal("anybody", cfg.Federation.AcceptRedundancyFrom)
}

func TestLoad(t *testing.T) {
	t.Run("file overlays defaults", func(t *testing.T) {
		require := require.New(t)

		path := filepath.Join(t.TempDir(), "tube.yaml")
		err := os.WriteFile(path, []byte(`
database:
  max_open_conns: 4
scores:
  bonus: 20
jobs:
  activitypub-follow:
    concurrency: 2
redundancy:
  strategies:
    - name: most-views
      min_lifetime: 25h
      size: 1073741824
    - name: recently-added
      min_lifetime: 48h
      min_views: 10
`), 0o600)
		require.NoError(err)

		cfg, err := Load(path)
		require.NoError(err)
		require.EqualValues(20, cfg.Scores.Bonus)
		require.Equal(4, cfg.Database.MaxOpenConns)
		require.Equal(10, cfg.Database.MaxIdleConns)
		require.EqualValues(-10, cfg.Scores.Penalty)
		require.Equal(Job{Concurrency: 2, Attempts: 5, TTL: 10 * time.Minute}, cfg.Job("activitypub-follow"))
		s, ok := cfg.Strategy("most-views")
		require.True(ok)
		require.Equal(25*time.Hour, s.MinLifetime)
		require.EqualValues(1<<30, s.Size)
		s, ok = cfg.Strategy("recently-added")
		require.True(ok)
		require.EqualValues(10, s.MinViews)
	})

	t.Run("zero values in the file are kept", func(t *testing.T) {
		require := require.New(t)

		path := filepath.Join(t.TempDir(), "tube.yaml")
		err := os.WriteFile(path, []byte(`
federation:
  actor_cache_ttl: 0s
  accept_redundancy_from: followings
scores:
  bonus: 0
  penalty: 0
jobs:
  activitypub-follow:
    ttl: 0s
  video-import:
    attempts: 2
`), 0o600)
		require.NoError(err)

		cfg, err := Load(path)
		require.NoError(err)
		require.Zero(cfg.Scores.Bonus)
		require.Zero(cfg.Scores.Penalty)
		require.EqualValues(1000, cfg.Scores.Base)
		require.Zero(cfg.Federation.ActorCacheTTL)
		require.Equal(1000, cfg.Federation.ActorCacheSize)
		require.Equal("followings", cfg.Federation.AcceptRedundancyFrom)
		require.Equal(Job{Concurrency: 1, Attempts: 5}, cfg.Job("activitypub-follow"))
		require.Equal(Job{Concurrency: 1, Attempts: 2}, cfg.Job("video-import"))
		require.Equal(Job{Concurrency: 30, Attempts: 1, TTL: 10 * time.Minute}, cfg.Job("activitypub-http-unicast"))
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		require := require.New(t)

		path := filepath.Join(t.TempDir(), "tube.yaml")
		require.NoError(os.WriteFile(path, nil, 0o600))

		cfg, err := Load(path)
		require.NoError(err)
		require.Equal(Default(), cfg)
	})

	t.Run("unknown redundancy policy is rejected", func(t *testing.T) {
		require := require.New(t)

		path := filepath.Join(t.TempDir(), "tube.yaml")
		err := os.WriteFile(path, []byte("federation:\n  accept_redundancy_from: friends\n"), 0o600)
		require.NoError(err)

		_, err = Load(path)
		require.Error(err)
	})

	t.Run("unknown strategy is rejected", func(t *testing.T) {
		require := require.New(t)

		path := filepath.Join(t.TempDir(), "tube.yaml")
		err := os.WriteFile(path, []byte("redundancy:\n  strategies:\n    - name: everything\n"), 0o600)
		require.NoError(err)

		_, err = Load(path)
		require.Error(err)
	})

	t.Run("environment overrides", func(t *testing.T) {
		require := require.New(t)

		t.Setenv("TUBE_ACTOR_REFRESH_INTERVAL", "1h")
		t.Setenv("TUBE_MANUAL_APPROVAL", "true")
		cfg, err := Load("")
		require.NoError(err)
		require.Equal(time.Hour, cfg.Federation.ActorRefreshInterval)
		require.True(cfg.Federation.ManualApproval)
	})
}
