package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "1.9.0", true},
		{"1.0.0", "1.0.1", false},
		{"2.0.0", "2.0.0-rc1", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}

func TestVersionCheckReadsLatestRelease(t *testing.T) {
	var gotETag string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/"+githubRepo+"/releases/latest", r.URL.Path)
		gotETag = r.Header.Get("If-None-Match")
		if gotETag == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v1.4.0"}`))
	}))
	defer srv.Close()

	oldVersion := Version
	Version = "1.3.2"
	t.Cleanup(func() { Version = oldVersion })

	vc := newVersionChecker(srv.URL, srv.Client())
	require.True(t, vc.check(context.Background()))

	info := vc.Info()
	assert.Equal(t, "1.3.2", info.Current)
	assert.Equal(t, "1.4.0", info.Latest)
	assert.True(t, info.UpdateAvail)

	require.True(t, vc.check(context.Background()))
	assert.Equal(t, `"abc"`, gotETag)
	vc.Stop()
}

func TestVersionCheckRetriesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL, srv.Client())
	assert.False(t, vc.check(context.Background()))
	assert.Empty(t, vc.Info().Latest)
}

func TestDevBuildNeverOffersUpdate(t *testing.T) {
	vc := newVersionChecker("http://127.0.0.1:0", http.DefaultClient)
	vc.latest = "9.9.9"
	assert.False(t, vc.Info().UpdateAvail)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
