package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// quietServer sends n text frames spaced by gap and never pings.
func quietServer(t *testing.T, n int, gap time.Duration) string {
	t.Helper()
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for i := 0; i < n; i++ {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("frame-%d", i))); err != nil {
				return
			}
			time.Sleep(gap)
		}
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketDialer_DataFramesKeepConnectionAlive(t *testing.T) {
	const frames = 12
	url := quietServer(t, frames, 25*time.Millisecond)

	conn, err := WebsocketDialer{ReadTimeout: 100 * time.Millisecond}.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// The frames span three read timeouts with no ping in between.
	for i := 0; i < frames; i++ {
		data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if want := fmt.Sprintf("frame-%d", i); string(data) != want {
			t.Fatalf("read %d = %q, want %q", i, data, want)
		}
	}

	// Silence after the last frame still times out.
	start := time.Now()
	_, err = conn.ReadMessage()
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("read after silence = %v, want a timeout", err)
	}
	if waited := time.Since(start); waited > 2*time.Second {
		t.Errorf("timeout took %v", waited)
	}
}
