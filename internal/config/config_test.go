package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"db": { "host": "10.0.0.1", "port": "5433" },
		"playback": { "packetWindow": "15s" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
	assert.Equal(t, 15*time.Second, GetPlaybackConfig().PacketWindow)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./playbacklogs", viper.GetString("logsDir"))
	assert.Equal(t, "http://localhost:5000/api", viper.GetString("api.serverUrl"))
	assert.Equal(t, "", viper.GetString("api.apiKey"))
	assert.Equal(t, ":8080", viper.GetString("http.addr"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "fleet", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, 30*time.Second, GetDuration("shutdownTimeout"))
	assert.Equal(t, 1024, GetInt("eventloop.queueSize"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
}

func TestGetPlaybackConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	pc := GetPlaybackConfig()
	assert.Equal(t, 10*time.Second, pc.PacketWindow)
	assert.Equal(t, 20*time.Second, pc.GapThreshold)
	assert.Equal(t, 30*time.Minute, pc.OfflineAfter)
	assert.Equal(t, 60*time.Second, pc.DriftThreshold)
	assert.Equal(t, 0.7, pc.PrefetchRatio)
	assert.Equal(t, 80.0, pc.OverspeedKmh)
	assert.Equal(t, 30, pc.ETAPollTicks)
	assert.Equal(t, 16, pc.CacheWindows)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"prefetch above one", `{"playback": {"prefetchRatio": 1.5}}`},
		{"zero packet window", `{"playback": {"packetWindow": "0s"}}`},
		{"unknown storage", `{"storage": {"type": "mongo"}}`},
		{"bad projection", `{"surface": {"projection": 900913}}`},
		{"feed url not a url", `{"feed": {"url": "not a url"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestTypedGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("surface.projection", "3857")
	viper.Set("playback.etaPollTicks", 12)
	viper.Set("graylog.enabled", true)
	viper.Set("playback.offlineAfter", "90s")

	assert.Equal(t, "3857", GetString("surface.projection"))
	assert.Equal(t, 12, GetInt("playback.etaPollTicks"))
	assert.True(t, GetBool("graylog.enabled"))
	assert.Equal(t, 90*time.Second, GetDuration("playback.offlineAfter"))
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"storage": { "type": "sqlite", "sqlite": { "path": "/tmp/fleet.db" } }
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/fleet.db", sc.SQLite.Path)
	assert.Equal(t, time.Minute, sc.SQLite.DumpInterval)
	assert.Equal(t, 2*time.Second, sc.FlushInterval)
}

func TestGetStorageConfig_PostgresFromDB(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"storage": { "type": "postgres" },
		"db": { "host": "db.internal", "postgis": true }
	}`)))

	pg := GetStorageConfig().Postgres
	assert.Equal(t, "db.internal", pg.Host)
	assert.Equal(t, "5432", pg.Port)
	assert.Equal(t, "postgres", pg.Username)
	assert.True(t, pg.PostGIS)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "playbackd", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetSurfaceConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"surface": { "url": "ws://maps.local/stream", "projection": 3857, "reconnectDelay": "2s" },
		"feed": { "url": "wss://feed.local/positions", "secret": "gw" }
	}`)))

	sc := GetSurfaceConfig()
	assert.Equal(t, "ws://maps.local/stream", sc.URL)
	assert.Equal(t, 3857, sc.Projection)
	assert.Equal(t, 2*time.Second, sc.ReconnectDelay)
	assert.Equal(t, "wss://feed.local/positions", GetFeedConfig().URL)
	assert.Equal(t, 5*time.Second, GetFeedConfig().ReconnectDelay)
	assert.Equal(t, "gw", GetFeedConfig().Secret)
	assert.Empty(t, sc.Secret)
}

func TestGetInfluxConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"influx": {"enabled": true, "host": "metrics"}}`)))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "http://metrics:8086", ic.URL())
	assert.Equal(t, "fleet-metrics", ic.Org)
}

func TestGetAPIConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"api": {"serverUrl": "https://video.example.com", "apiKey": "k", "uploadExports": true}}`)))

	assert.Equal(t, APIConfig{ServerURL: "https://video.example.com", APIKey: "k", UploadExports: true}, GetAPIConfig())
}

func TestLoad_RejectsBadAPIURL(t *testing.T) {
	t.Cleanup(viper.Reset)
	assert.Error(t, Load(writeConfig(t, `{"api": {"serverUrl": "not a url"}}`)))
}
