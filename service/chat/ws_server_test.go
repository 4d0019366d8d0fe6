package chat

import (
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"CampusChat/tools/security"
)

func dialTestSocket(t *testing.T, s *Server, userID string) (*websocket.Conn, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", s.HandleWS)
	srv := httptest.NewServer(router)

	token, _, err := security.Generate(s.jwtOpts, userID)
	if err != nil {
		srv.Close()
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatal(err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	return ws, func() {
		_ = ws.Close()
		srv.Close()
	}
}

// The server must release the underlying connection after teardown, not
// just send the close frame and forget the fd.
func TestTeardownClosesSocket(t *testing.T) {
	_, s, _, _, done := newTestServer(t)
	defer done()

	ws, cleanup := dialTestSocket(t, s, "alice")
	defer cleanup()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.ConnManager().ListAllExceptUser("")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered locally")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.ConnManager().CloseAll()

	// drain frames until the close handshake
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var rerr error
	for {
		if _, _, rerr = ws.ReadMessage(); rerr != nil {
			break
		}
	}
	if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
		t.Fatalf("no close frame before deadline: %v", rerr)
	}

	// the close frame alone is not enough: the raw connection must see a
	// FIN instead of idling until the read deadline
	raw := ws.UnderlyingConn()
	_ = raw.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	if _, err := raw.Read(buf); err == nil {
		t.Fatal("unexpected bytes after the close frame")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("connection left open after teardown")
	}
}

// A peer disconnect is the common path; the server side must drop the fd
// there too.
func TestPeerCloseReleasesConnection(t *testing.T) {
	_, s, _, _, done := newTestServer(t)
	defer done()

	ws, cleanup := dialTestSocket(t, s, "bob")
	defer cleanup()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.ConnManager().ListAllExceptUser("")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered locally")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	for time.Now().Before(deadline) {
		if len(s.ConnManager().ListAllExceptUser("")) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("connection still in the local table after peer close")
}
