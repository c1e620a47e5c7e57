package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hraban/opus"
	"github.com/matryer/is"

	"github.com/voicewire/duplex-go/pkg/rtc"
)

var upgrader = websocket.Upgrader{}

// wsServer runs handler for each websocket connection.
func wsServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestInboundSignalsAndAudio(t *testing.T) {
	is := is.New(t)

	srv := wsServer(t, func(conn *websocket.Conn) {
		is.NoErr(conn.WriteJSON(&Signal{Type: "transcript", Text: "hello there"}))
		is.NoErr(conn.WriteJSON(&Signal{Type: "utterance", Text: "hi, how can I help"}))
		is.NoErr(conn.WriteMessage(websocket.BinaryMessage, make([]byte, 4800)))
		time.Sleep(200 * time.Millisecond)
	})

	transcripts := make(chan string, 1)
	utterances := make(chan string, 1)
	chunks := make(chan *rtc.AudioChunk, 1)

	c := NewClient(Options{
		URL: wsURL(srv),
		Handlers: Handlers{
			OnTranscript:    func(text string) { transcripts <- text },
			OnUtteranceText: func(text string) { utterances <- text },
			OnAudio:         func(chunk *rtc.AudioChunk) { chunks <- chunk },
		},
	})
	is.NoErr(c.Connect(context.Background()))
	defer c.Close()

	select {
	case got := <-transcripts:
		is.Equal(got, "hello there")
	case <-time.After(time.Second):
		t.Fatal("no transcript received")
	}
	select {
	case got := <-utterances:
		is.Equal(got, "hi, how can I help")
	case <-time.After(time.Second):
		t.Fatal("no utterance text received")
	}
	select {
	case chunk := <-chunks:
		is.Equal(len(chunk.PCM), 2400)        // 4800 bytes of PCM16
		is.Equal(chunk.SampleRate, 24000)     // playback rate
		is.Equal(chunk.Duration(), 100*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("no audio chunk received")
	}
}

func TestNotifyInterruption(t *testing.T) {
	is := is.New(t)

	received := make(chan Signal, 1)
	srv := wsServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sig Signal
		is.NoErr(json.Unmarshal(data, &sig))
		received <- sig
	})

	c := NewClient(Options{URL: wsURL(srv)})
	is.NoErr(c.Connect(context.Background()))
	defer c.Close()

	is.NoErr(c.NotifyInterruption("urgent", "stop_immediately"))

	select {
	case sig := <-received:
		is.Equal(sig.Type, "interruption")
		is.Equal(sig.Data["kind"], "urgent")
		is.Equal(sig.Data["action"], "stop_immediately")
	case <-time.After(time.Second):
		t.Fatal("server did not receive the signal")
	}
}

func TestOpusInboundDecode(t *testing.T) {
	is := is.New(t)

	chunks := make(chan *rtc.AudioChunk, 1)
	c := NewClient(Options{
		Handlers: Handlers{
			OnAudio: func(chunk *rtc.AudioChunk) { chunks <- chunk },
		},
	})

	// 20ms of silence at the playback rate, encoded then fed through the
	// inbound path directly.
	enc, err := opus.NewEncoder(playbackSampleRate, 1, opus.AppVoIP)
	is.NoErr(err)
	pcm := make([]int16, playbackSampleRate/50)
	buf := make([]byte, opusFrameBuf)
	n, err := enc.Encode(pcm, buf)
	is.NoErr(err)

	c.handleSignal([]byte(`{"type":"format","text":"opus"}`))
	c.handleAudio(buf[:n])

	select {
	case chunk := <-chunks:
		is.Equal(len(chunk.PCM), len(pcm))
		is.Equal(chunk.SampleRate, playbackSampleRate)
	default:
		t.Fatal("no decoded chunk delivered")
	}
}

func TestCloseDuringReadLoopIsSafe(t *testing.T) {
	is := is.New(t)

	srv := wsServer(t, func(conn *websocket.Conn) {
		is.NoErr(conn.WriteJSON(&Signal{Type: "transcript", Text: "first"}))
		// The client closes while handling "first"; this write lands
		// between iterations of its read loop.
		conn.WriteJSON(&Signal{Type: "transcript", Text: "second"})
		time.Sleep(200 * time.Millisecond)
	})

	closed := make(chan struct{})
	var c *Client
	c = NewClient(Options{
		URL: wsURL(srv),
		Handlers: Handlers{
			// Handlers run on the read loop goroutine, so Close here
			// guarantees the loop iterates at least once after the
			// connection field is nilled out.
			OnTranscript: func(string) {
				c.Close()
				close(closed)
			},
		},
	})
	is.NoErr(c.Connect(context.Background()))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("transcript never delivered")
	}
	// Give the loop time to take its post-Close iteration; a regression
	// panics the process here.
	time.Sleep(100 * time.Millisecond)
}

func TestMalformedInboundIsDropped(t *testing.T) {
	is := is.New(t)

	srv := wsServer(t, func(conn *websocket.Conn) {
		is.NoErr(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		is.NoErr(conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})) // odd length
		is.NoErr(conn.WriteJSON(&Signal{Type: "transcript", Text: "still alive"}))
		time.Sleep(200 * time.Millisecond)
	})

	transcripts := make(chan string, 1)
	c := NewClient(Options{
		URL: wsURL(srv),
		Handlers: Handlers{
			OnTranscript: func(text string) { transcripts <- text },
			OnAudio:      func(*rtc.AudioChunk) { t.Error("odd-length audio delivered") },
		},
	})
	is.NoErr(c.Connect(context.Background()))
	defer c.Close()

	select {
	case got := <-transcripts:
		is.Equal(got, "still alive")
	case <-time.After(time.Second):
		t.Fatal("read loop died on malformed input")
	}
}
