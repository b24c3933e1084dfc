package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	_, err := os.Stat(path)
	require.NoError(t, err)

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.WebPort)
	assert.Equal(t, DefaultWebUsername, snap.WebUser)
	assert.Equal(t, 60*time.Second, snap.ChunkInterval)
	assert.Equal(t, time.Second, snap.LivenessInterval)
	assert.Equal(t, "video/webm", snap.MIMEType)
	assert.Equal(t, 30, snap.FrameRate)
	assert.True(t, snap.Cursor)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "status"), snap.StatusDir)
	assert.False(t, snap.HasS3())
	assert.False(t, snap.HasHTTPUpload())
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"system": {"port": 9000, "data_dir": "/var/lib/screenrec"},
		"recording": {"chunk_interval_ms": 5000, "mime_type": "video/mp4", "hide_cursor": true},
		"storage": {"downloads_dir": "/tmp/out"}
	}`), 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())
	snap := cfg.Snapshot()

	assert.Equal(t, 9000, snap.WebPort)
	assert.Equal(t, DefaultWebPassword, snap.WebPassword)
	assert.Equal(t, 5*time.Second, snap.ChunkInterval)
	assert.Equal(t, "video/mp4", snap.MIMEType)
	assert.False(t, snap.Cursor)
	assert.Equal(t, "/tmp/out", snap.DownloadsDir)
	assert.Equal(t, filepath.Join("/var/lib/screenrec", "status"), snap.StatusDir)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[system]
username = "studio"
password = "secret"

[recording]
frame_rate = 15
microphone = "alsa_input.usb"
mix_mic_with_screen_audio = true

[liveness]
interval_ms = 500

[storage.s3]
bucket = "recordings"
access_key_id = "AKID"
secret_access_key = "SECRET"
endpoint = "https://r2.example.com"
`), 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())
	snap := cfg.Snapshot()

	assert.Equal(t, "studio", snap.WebUser)
	assert.Equal(t, 15, snap.FrameRate)
	assert.Equal(t, "alsa_input.usb", snap.Microphone)
	assert.True(t, snap.MixMicrophone)
	assert.Equal(t, 500*time.Millisecond, snap.LivenessInterval)
	assert.True(t, snap.HasS3())
	assert.Equal(t, "https://r2.example.com", snap.S3.Endpoint)
}

func TestSettersPersistTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := New(path)
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetMicrophone("hw:1"))
	require.NoError(t, cfg.SetMixMicrophone(true))
	require.NoError(t, cfg.SetFrameRate(24))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	snap := reloaded.Snapshot()
	assert.Equal(t, "hw:1", snap.Microphone)
	assert.True(t, snap.MixMicrophone)
	assert.Equal(t, 24, snap.FrameRate)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"mime type", `{"recording": {"mime_type": "video/avi"}}`, "mime_type"},
		{"chunk interval", `{"recording": {"chunk_interval_ms": 10}}`, "chunk_interval_ms"},
		{"port", `{"system": {"port": 70000}}`, "port"},
		{"log level", `{"system": {"log_level": "verbose"}}`, "log_level"},
		{"upload url", `{"upload": {"http": {"url": "not a url"}}}`, "url"},
		{"partial s3", `{"storage": {"s3": {"bucket": "b"}}}`, "storage.s3"},
		{"token without client", `{"upload": {"http": {"url": "https://u.example.com", "token_url": "https://t.example.com"}}}`, "client_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			err := New(path).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is not valid toml {{{"), 0o600))
	assert.Error(t, New(path).Load())
}

func TestSnapshotCopiesScopes(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	cfg.Upload.HTTP.Scopes = []string{"upload"}

	snap := cfg.Snapshot()
	snap.HTTPUpload.Scopes[0] = "changed"
	assert.Equal(t, "upload", cfg.Upload.HTTP.Scopes[0])
}
