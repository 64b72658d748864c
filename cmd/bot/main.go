package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"liftpanel.dev/internal/protocol"
)

// bot is a demo client: it connects to the control endpoint, watches the
// frame stream and presses UP/DOWN/STOP at random intervals.
func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name = flag.String("name", "bot", "client name")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Capabilities: protocol.HelloCapabilities{
			MaxQueue: 8,
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	buttons := []string{protocol.ButtonUp, protocol.ButtonDown, protocol.ButtonStop}

	var lastFloor uint8 = 0xFF
	var presses int

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s panel=%s fast=%dHz slow=%dHz",
				w.SessionID, w.PanelParams.PanelID, w.PanelParams.FastTickHz, w.PanelParams.SlowTickHz)

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if !ack.Accepted {
				logger.Printf("ACK %s rejected: %s %s", ack.AckFor, ack.Code, ack.Message)
			}

		case protocol.TypeFrame:
			var f protocol.FrameMsg
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			if f.Floor != lastFloor {
				lastFloor = f.Floor
				logger.Printf("tick=%d floor=%d display=%d%d", f.Tick, f.Floor, f.Tens, f.Ones)
			}

			// Press something every ~50 frames.
			if r.Intn(50) == 0 {
				presses++
				press := protocol.PressMsg{
					Type:            protocol.TypePress,
					ProtocolVersion: protocol.Version,
					ID:              fmt.Sprintf("P_%d", presses),
					Button:          buttons[r.Intn(len(buttons))],
				}
				_ = conn.WriteJSON(press)
			}
		}
	}
}
