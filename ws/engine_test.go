package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnjansen/marlin/site"
)

func newTestServer(t *testing.T, e *Engine) (*httptest.Server, string) {
	t.Helper()
	reg := site.NewRegistry()
	ref, err := reg.CreateSite(site.KindNamed, false, 80, "/ws/", false)
	require.NoError(t, err)
	s := reg.Site(ref)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.Serve(w, r, s, nil)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func TestHandshakeInvokesOnOpen(t *testing.T) {
	opened := make(chan *Session, 1)
	e := NewEngine(Config{}, func(s *site.Site, routing []string) Callbacks {
		return Callbacks{OnOpen: func(sess *Session) { opened <- sess }}
	})
	srv, wsURL := newTestServer(t, e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case sess := <-opened:
		assert.Equal(t, StateOpen, sess.State())
	case <-time.After(time.Second):
		t.Fatal("OnOpen not called")
	}
}

func TestSendDeliversMessageToClient(t *testing.T) {
	var handle string
	ready := make(chan struct{})
	e := NewEngine(Config{}, func(s *site.Site, routing []string) Callbacks {
		return Callbacks{OnOpen: func(sess *Session) {
			handle = sess.Handle()
			close(ready)
		}}
	})
	srv, wsURL := newTestServer(t, e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	<-ready
	require.NoError(t, e.Send(handle, []byte("hello"), false))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "hello", string(data))
}

func TestLargeMessageArrivesAsMultipleFinalFalseFrames(t *testing.T) {
	var frames []WSFrame
	var mu sync.Mutex
	done := make(chan struct{})
	e := NewEngine(Config{RecvBufferSize: 4}, func(s *site.Site, routing []string) Callbacks {
		return Callbacks{OnMessage: func(sess *Session, f WSFrame) {
			mu.Lock()
			frames = append(frames, f)
			mu.Unlock()
			if f.Final {
				close(done)
			}
		}}
	})
	srv, wsURL := newTestServer(t, e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("abcdefghij")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message not fully delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, len(frames), 1)
	var reassembled []byte
	for i, f := range frames {
		reassembled = append(reassembled, f.Data...)
		if i < len(frames)-1 {
			assert.False(t, f.Final)
		}
	}
	assert.Equal(t, "abcdefghij", string(reassembled))
	assert.True(t, frames[len(frames)-1].Final)
}

func TestCloseTriggersOnClose(t *testing.T) {
	closed := make(chan int, 1)
	var handle string
	ready := make(chan struct{})
	e := NewEngine(Config{}, func(s *site.Site, routing []string) Callbacks {
		return Callbacks{
			OnOpen:  func(sess *Session) { handle = sess.Handle(); close(ready) },
			OnClose: func(sess *Session, code int) { closed <- code },
		}
	})
	srv, wsURL := newTestServer(t, e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	<-ready
	require.NoError(t, e.Close(handle, websocket.CloseNormalClosure, "bye"))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, _ = conn.ReadMessage() // drains the close frame, replies per RFC 6455
	conn.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	assert.False(t, e.HasSession(handle))
}
