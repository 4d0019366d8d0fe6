package chat

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"CampusChat/logger"
	"CampusChat/module/bus"
	"CampusChat/module/cache"
	"CampusChat/tools/errs"
	"CampusChat/tools/ids"
	"CampusChat/tools/security"
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.cfg.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.cfg.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// HandleWS authenticates, upgrades and runs one connection's read loop. The
// read loop only reads; the write pump owns the socket for writes.
func (s *Server) HandleWS(c *gin.Context) {
	userID, err := s.authenticate(c)
	if err != nil {
		logger.Infof("[ws] reject: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	up := s.upgrader()
	ws, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade: %v", err)
		return
	}

	// the write pump also closes on its own exit paths; whichever side
	// finishes last releases the fd
	defer func() { _ = ws.Close() }()

	connID := ids.GenerateString()
	client := newClient(connID, userID, ws, s.cfg.SendBuffer)
	ctx := context.Background()

	// fleet-wide registration is mandatory before local; a store outage
	// must refuse the connection rather than host an unreachable one
	if err := s.registry.AddConnection(ctx, userID, connID); err != nil {
		logger.Errorf("[ws] presence register %s: %v", userID, err)
		return
	}
	first := s.conns.Add(client) == 1
	go client.writePump(s.cfg.WriteTimeout, s.cfg.PingInterval)

	if first {
		if err := s.events.Publish(ctx, bus.EventOnlineStatus, map[string]interface{}{
			"userId": userID,
			"status": "online",
		}); err != nil {
			logger.Warnf("[ws] publish online: %v", err)
		}
	}
	logger.Infof("[ws] connected user=%s conn=%s remote=%s", userID, connID, client.Remote)

	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
		// keep the fleet-wide set alive while the socket is
		if err := s.registry.Renew(ctx, userID); err != nil {
			logger.Warnf("[ws] presence renew %s: %v", userID, err)
		}
		return nil
	})
	_ = ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))

	s.readLoop(ctx, client)
	s.teardown(ctx, client)
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		mt, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s", client.ConnID)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s", client.ConnID)
			} else {
				logger.Infof("[ws] read err conn=%s: %v", client.ConnID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, err := ParseFrame(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[ws] bad frame conn=%s err=%v sample=%q", client.ConnID, err, sample)
			continue
		}

		if err := s.dispatch(ctx, client, frame); err != nil {
			logger.Infof("[ws] %s failed conn=%s: %v", frame.Event, client.ConnID, err)
			s.notifyError(client, frame.Event, err)
		}
	}
}

// notifyError surfaces a handler failure to the offending connection only.
func (s *Server) notifyError(c *Client, event string, err error) {
	raw, merr := MarshalFrame(bus.OutNotification, map[string]interface{}{
		"type":  "error",
		"event": event,
		"error": err.Error(),
	})
	if merr != nil {
		return
	}
	select {
	case c.Send <- raw:
	default:
	}
}

// teardown deregisters everywhere. Best-effort: a failed presence removal
// is logged loudly since it risks fan-out to a dead connection until the
// set's TTL reaps it.
func (s *Server) teardown(ctx context.Context, client *Client) {
	s.conns.Remove(client)
	client.close()

	if err := s.registry.RemoveConnection(ctx, client.UserID, client.ConnID); err != nil {
		logger.Errorf("[ws] presence remove %s/%s: %v", client.UserID, client.ConnID, err)
	}

	remaining, err := s.registry.GetConnections(ctx, client.UserID)
	if err == nil && len(remaining) == 0 {
		if perr := s.events.Publish(ctx, bus.EventOnlineStatus, map[string]interface{}{
			"userId": client.UserID,
			"status": "offline",
		}); perr != nil {
			logger.Warnf("[ws] publish offline: %v", perr)
		}
	}
	logger.Infof("[ws] disconnected user=%s conn=%s", client.UserID, client.ConnID)
}

// authenticate validates the bearer token and checks the revocation list.
func (s *Server) authenticate(c *gin.Context) (string, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	if token == "" {
		return "", errors.New("missing token")
	}

	userID, err := security.Parse(s.jwtOpts, token)
	if err != nil {
		return "", err
	}

	_, revoked, err := s.store.Get(c.Request.Context(), cache.BlacklistTokenKey(token))
	if err != nil {
		// auth must fail closed when the revocation list is unreadable
		return "", err
	}
	if revoked {
		// log the digest, never the token itself
		return "", errs.ErrTokenRevoked.WithDetail(security.HashToken(token))
	}
	return userID, nil
}
