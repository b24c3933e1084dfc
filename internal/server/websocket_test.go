package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "recorder.example.org", true},
		{"http://localhost:8080", "recorder.example.org", true},
		{"http://127.0.0.1:8080", "recorder.example.org", true},
		{"http://192.168.1.20", "recorder.example.org", true},
		{"https://recorder.example.org", "recorder.example.org:8080", true},
		{"https://evil.example.com", "recorder.example.org", false},
		{"://bad", "recorder.example.org", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(r))
		})
	}
}

func TestConnEchoAndPing(t *testing.T) {
	pings := make(chan struct{}, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := UpgradeConnection(w, r)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if err := conn.Ping(); err != nil {
			return
		}
		_ = conn.WriteJSON(CommandResult{Type: cmd.Type + "_result", Success: true})
	}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer ws.Close()

	ws.SetPingHandler(func(string) error {
		pings <- struct{}{}
		return nil
	})
	require.NoError(t, ws.WriteJSON(WSCommand{Type: "settings/get"}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var result CommandResult
	require.NoError(t, ws.ReadJSON(&result))
	assert.Equal(t, "settings/get_result", result.Type)
	assert.True(t, result.Success)

	select {
	case <-pings:
	default:
		t.Fatal("no ping received")
	}
}
