package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liftpanel.dev/internal/protocol"
	"liftpanel.dev/internal/sim/cabin"
	"liftpanel.dev/internal/sim/panel"
)

// Server is the control endpoint: clients HELLO, receive WELCOME plus the
// frame stream, and submit PRESS commands that are acked individually.
type Server struct {
	panel *panel.Panel
	cabin *cabin.Machine
	log   *log.Logger

	fastTickHz int
	slowTickHz int
	frameEvery int

	upgrader websocket.Upgrader
}

func NewServer(p *panel.Panel, m *cabin.Machine, fastHz, slowHz, frameEvery int, logger *log.Logger) *Server {
	if frameEvery < 1 {
		frameEvery = 1
	}
	return &Server{
		panel:      p,
		cabin:      m,
		log:        logger,
		fastTickHz: fastHz,
		slowTickHz: slowHz,
		frameEvery: frameEvery,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine: frames and acks share the out channel.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.Type != protocol.TypePress {
				continue
			}
			var press protocol.PressMsg
			if err := json.Unmarshal(msg, &press); err != nil {
				s.sendAck(out, "", cabin.Result{Code: protocol.ErrProtoBadRequest, Message: "malformed PRESS"})
				continue
			}
			if press.ProtocolVersion != protocol.Version {
				s.sendAck(out, press.ID, cabin.Result{Code: protocol.ErrProtoBadRequest, Message: "bad protocol_version"})
				continue
			}

			resp := make(chan cabin.Result, 1)
			cmd := cabin.Command{SessionID: sessionID, PressID: press.ID, Button: press.Button, Resp: resp}
			select {
			case s.cabin.Inbox() <- cmd:
			default:
				s.sendAck(out, press.ID, cabin.Result{Code: protocol.ErrBusy, Message: "cabin busy"})
				continue
			}
			select {
			case res := <-resp:
				s.sendAck(out, press.ID, res)
			case <-time.After(5 * time.Second):
				s.sendAck(out, press.ID, cabin.Result{Code: protocol.ErrBusy, Message: "timed out"})
			}
		}

		// Cleanup: detach the frame subscription.
		s.panel.ObserverLeave() <- sessionID
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	sessionID = uuid.NewString()

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		PanelParams:     s.panel.Describe(s.fastTickHz, s.slowTickHz),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}

	s.panel.ObserverJoin() <- panel.ObserverJoinRequest{
		SessionID: sessionID,
		Out:       out,
		Every:     s.frameEvery,
	}
	if s.log != nil {
		s.log.Printf("session %s joined (%s)", sessionID, hello.ClientName)
	}
	return sessionID, out
}

func (s *Server) sendAck(out chan []byte, pressID string, res cabin.Result) {
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          pressID,
		Accepted:        res.Accepted,
		Code:            res.Code,
		Message:         res.Message,
	}
	b, err := json.Marshal(ack)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
		// The frame stream has filled the queue; the client is too slow to
		// care about this ack anyway.
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
