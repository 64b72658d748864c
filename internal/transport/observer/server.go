package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"liftpanel.dev/internal/observerproto"
	"liftpanel.dev/internal/sim/panel"
)

// Server exposes the read-only observer surface: a bootstrap endpoint and a
// frame-stream websocket. Both are restricted to loopback clients.
type Server struct {
	panel *panel.Panel
	log   *log.Logger

	fastTickHz int
	slowTickHz int

	frameEveryDefault int
	frameEveryMax     int

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(p *panel.Panel, fastHz, slowHz, everyDefault, everyMax int, logger *log.Logger) *Server {
	if everyDefault < 1 {
		everyDefault = 1
	}
	if everyMax < everyDefault {
		everyMax = everyDefault
	}
	return &Server{
		panel:             p,
		log:               logger,
		fastTickHz:        fastHz,
		slowTickHz:        slowHz,
		frameEveryDefault: everyDefault,
		frameEveryMax:     everyMax,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		params := s.panel.Describe(s.fastTickHz, s.slowTickHz)
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			PanelID:         params.PanelID,
			Tick:            s.panel.CurrentTick(),
			PanelParams:     params,
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		s.normalizeSubscribe(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 256)

		joinReq := panel.ObserverJoinRequest{
			SessionID: sid,
			Out:       out,
			Every:     sub.FrameEvery,
		}
		select {
		case s.panel.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.panel.ObserverLeave() <- sid:
			default:
				// Panel loop is stopping; nothing else to do.
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates to change the decimation.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var sub observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
				continue
			}
			s.normalizeSubscribe(&sub)
			req := panel.ObserverJoinRequest{
				SessionID: sid,
				Out:       out,
				Every:     sub.FrameEvery,
			}
			select {
			case s.panel.ObserverJoin() <- req:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.FrameEvery <= 0 {
		sub.FrameEvery = s.frameEveryDefault
	}
	if sub.FrameEvery > s.frameEveryMax {
		sub.FrameEvery = s.frameEveryMax
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
