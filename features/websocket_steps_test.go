package features

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/cucumber/godog"
	gorillaws "github.com/gorilla/websocket"

	"github.com/johnjansen/marlin/site"
	"github.com/johnjansen/marlin/ws"
)

// WebSocketSuite drives ws.Engine over a real httptest.Server and a
// real gorilla/websocket client dialer, the way router.Router's
// StreamEngine hand-off would after a handler returns
// site.UpgradeWebSocket.
type WebSocketSuite struct {
	engine   *ws.Engine
	srv      *httptest.Server
	conn     *gorillaws.Conn
	closeCh  chan int
	closedN  int
	lastCode int
	closeErr error
}

func (wss *WebSocketSuite) reset() {
	if wss.conn != nil {
		_ = wss.conn.Close()
	}
	if wss.srv != nil {
		wss.srv.Close()
	}
	wss.engine = nil
	wss.srv = nil
	wss.conn = nil
	wss.closeCh = make(chan int, 4)
	wss.closedN = 0
	wss.lastCode = 0
	wss.closeErr = nil
}

func (wss *WebSocketSuite) anOpenWebSocketSession() error {
	closeCh := wss.closeCh
	wss.engine = ws.NewEngine(ws.Config{}, func(s *site.Site, routing []string) ws.Callbacks {
		return ws.Callbacks{
			OnClose: func(sess *ws.Session, code int) { closeCh <- code },
		}
	})

	reg := site.NewRegistry()
	ref, err := reg.CreateSite(site.KindNamed, false, 80, "/ws/", false)
	if err != nil {
		return err
	}
	s := reg.Site(ref)

	wss.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wss.engine.Serve(w, r, s, nil)
	}))

	wsURL := "ws" + strings.TrimPrefix(wss.srv.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}
	wss.conn = conn
	return nil
}

func (wss *WebSocketSuite) theClientSendsACloseFrameWithCodeAndReason(code int, reason string) error {
	msg := gorillaws.FormatCloseMessage(code, reason)
	return wss.conn.WriteControl(gorillaws.CloseMessage, msg, time.Now().Add(time.Second))
}

func (wss *WebSocketSuite) theServerRepliesWithACloseFrameCarryingCode(code int) error {
	wss.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := wss.conn.ReadMessage()
	ce, ok := err.(*gorillaws.CloseError)
	if !ok {
		return fmt.Errorf("expected a close error from the server, got: %v", err)
	}
	if ce.Code != code {
		return fmt.Errorf("expected close code %d, got %d", code, ce.Code)
	}
	wss.lastCode = ce.Code
	return nil
}

func (wss *WebSocketSuite) onCloseFiresExactlyOnceOnTheServer() error {
	select {
	case code := <-wss.closeCh:
		wss.closedN++
		if code != wss.lastCode {
			return fmt.Errorf("OnClose observed code %d, client observed %d", code, wss.lastCode)
		}
	case <-time.After(2 * time.Second):
		return fmt.Errorf("OnClose was not called")
	}

	select {
	case extra := <-wss.closeCh:
		return fmt.Errorf("OnClose fired a second time with code %d", extra)
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

// InitializeWebSocketScenario registers the close-handshake steps.
func InitializeWebSocketScenario(ctx *godog.ScenarioContext) {
	wss := &WebSocketSuite{}
	ctx.Before(func(gctx context.Context, sc *godog.Scenario) (context.Context, error) {
		wss.reset()
		return gctx, nil
	})
	ctx.After(func(gctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if wss.conn != nil {
			_ = wss.conn.Close()
		}
		if wss.srv != nil {
			wss.srv.Close()
		}
		return gctx, err
	})

	ctx.Step(`^an open WebSocket session$`, wss.anOpenWebSocketSession)
	ctx.Step(`^the client sends a close frame with code (\d+) and reason "([^"]*)"$`, wss.theClientSendsACloseFrameWithCodeAndReason)
	ctx.Step(`^the server replies with a close frame carrying code (\d+)$`, wss.theServerRepliesWithACloseFrameCarryingCode)
	ctx.Step(`^OnClose fires exactly once on the server$`, wss.onCloseFiresExactlyOnceOnTheServer)
}
