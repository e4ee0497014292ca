package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/jmichaelis/parley/pkg/audio"
	"github.com/jmichaelis/parley/pkg/provider/live"
	"github.com/jmichaelis/parley/pkg/provider/live/gemini"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted connection; the server is closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func TestConnect_SendsSetup(t *testing.T) {
	setupCh := make(chan map[string]any, 1)

	srv := startServer(t, func(conn *websocket.Conn) {
		var msg map[string]any
		readJSON(t, conn, &msg)
		setupCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("test-key", gemini.WithBaseURL(wsURL(srv)), gemini.WithModel("test-model"))
	sess, err := p.Connect(context.Background(), live.SessionConfig{
		Instructions: "negotiate hard",
		Voice:        "Charon",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case msg := <-setupCh:
		setup, ok := msg["setup"].(map[string]any)
		if !ok {
			t.Fatalf("first message is not a setup: %v", msg)
		}
		if setup["model"] != "models/test-model" {
			t.Errorf("model = %v, want models/test-model", setup["model"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received a setup message")
	}
}

func TestSendEnvelope_ForwardsMediaChunk(t *testing.T) {
	chunkCh := make(chan map[string]any, 1)

	srv := startServer(t, func(conn *websocket.Conn) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		var input map[string]any
		readJSON(t, conn, &input)
		chunkCh <- input
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("test-key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	env := audio.TransportEnvelope{
		MIMEType: audio.CaptureMIMEType,
		Data:     audio.EncodePCM16([]float32{0.1, -0.1}),
	}
	if err := sess.SendEnvelope(env); err != nil {
		t.Fatalf("SendEnvelope: %v", err)
	}

	select {
	case msg := <-chunkCh:
		input := msg["realtimeInput"].(map[string]any)
		chunks := input["mediaChunks"].([]any)
		chunk := chunks[0].(map[string]any)
		if chunk["mimeType"] != audio.CaptureMIMEType {
			t.Errorf("mimeType = %v, want %v", chunk["mimeType"], audio.CaptureMIMEType)
		}
		if chunk["data"] != env.Data {
			t.Errorf("data = %v, want the envelope payload verbatim", chunk["data"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the media chunk")
	}
}

func TestReceive_AudioAndTranscripts(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var setup map[string]any
		readJSON(t, conn, &setup)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     "AAAA",
						}},
					},
				},
				"outputTranscription": map[string]any{"text": "state your offer"},
				"turnComplete":        true,
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("test-key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case data := <-sess.Audio():
		if data != "AAAA" {
			t.Errorf("audio payload = %q, want AAAA", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no audio chunk received")
	}

	select {
	case frag := <-sess.Transcripts():
		if frag.Origin != "agent" || frag.Text != "state your offer" || !frag.Final {
			t.Errorf("fragment = %+v, want final agent fragment", frag)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no transcript fragment received")
	}
}

func TestClose_Idempotent(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("test-key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := sess.SendEnvelope(audio.TransportEnvelope{}); err == nil {
		t.Fatal("SendEnvelope after Close should fail")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	p := gemini.New("test-key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Connect(ctx, live.SessionConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}
