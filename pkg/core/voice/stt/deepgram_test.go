package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDeepgram_ListenURL(t *testing.T) {
	d := NewDeepgram("k")
	raw := d.listenURL(StreamOptions{Alternatives: 2})
	for _, want := range []string{"model=nova-3", "language=multi", "smart_format=true", "endpointing=10", "alternatives=2", "sample_rate=16000"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("url %q missing %q", raw, want)
		}
	}
}

func TestDecodeDeepgram_SkipsEmptyAndNonResults(t *testing.T) {
	deltas, done, err := decodeDeepgram([]byte(`{"type":"Metadata"}`))
	if err != nil || done || len(deltas) != 0 {
		t.Fatalf("metadata: deltas=%v done=%v err=%v", deltas, done, err)
	}
	deltas, _, _ = decodeDeepgram([]byte(`{"type":"Results","channel":{"alternatives":[{"transcript":"  "}]}}`))
	if len(deltas) != 0 {
		t.Fatalf("empty transcript produced %d deltas", len(deltas))
	}
	deltas, _, _ = decodeDeepgram([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello","confidence":0.9}]}}`))
	if len(deltas) != 1 || deltas[0].Text != "hello" || !deltas[0].IsFinal {
		t.Fatalf("deltas=%+v", deltas)
	}
}

func TestDeepgram_StreamRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAuth := make(chan string, 1)
	gotClose := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hi there"}]}}`))
				continue
			}
			gotClose <- string(data)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}))
	defer srv.Close()

	d := NewDeepgramWithBaseURL("secret", "ws"+strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := d.NewStream(ctx, StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer stream.Close()

	if auth := <-gotAuth; auth != "Token secret" {
		t.Fatalf("auth=%q", auth)
	}
	if err := stream.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case delta := <-stream.Transcripts():
		if delta.Text != "hi there" {
			t.Fatalf("text=%q", delta.Text)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for transcript")
	}
	if err := stream.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	select {
	case msg := <-gotClose:
		if msg != `{"type":"CloseStream"}` {
			t.Fatalf("close msg=%q", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for CloseStream")
	}
	if err := stream.SendAudio([]byte{1}); err == nil {
		t.Fatalf("expected error sending after Finalize")
	}
}

func TestDeepgram_KeepAliveWhileSilent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	got := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				select {
				case got <- string(data):
				default:
				}
			}
		}
	}))
	defer srv.Close()

	d := NewDeepgramWithBaseURL("secret", "ws"+strings.TrimPrefix(srv.URL, "http"))
	d.keepAlive = 20 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := d.NewStream(ctx, StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer stream.Close()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-got:
			if msg != `{"type":"KeepAlive"}` {
				t.Fatalf("msg=%q, want KeepAlive", msg)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for keep alive %d", i)
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("Err=%v, want nil", err)
	}
}

func TestDeepgram_MissingKey(t *testing.T) {
	if _, err := NewDeepgram("").NewStream(context.Background(), StreamOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDecodeCartesia(t *testing.T) {
	deltas, done, err := decodeCartesia([]byte(`{"type":"transcript","text":"ok","is_final":true}`))
	if err != nil || done || len(deltas) != 1 {
		t.Fatalf("deltas=%v done=%v err=%v", deltas, done, err)
	}
	if _, done, _ := decodeCartesia([]byte(`{"type":"done"}`)); !done {
		t.Fatalf("done message not recognised")
	}
	if _, _, err := decodeCartesia([]byte(`{"type":"error","error":"bad"}`)); err == nil {
		t.Fatalf("expected error")
	}
}
