// Teleop - scripted joystick client for the rover.
// Streams control frames at 20 Hz over the operator websocket and prints
// the telemetry it receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-rover/internal/httpc"
	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

const sendRate = 50 * time.Millisecond // 20 Hz

// step is one leg of the drive script.
type step struct {
	angleDeg  float64
	magnitude float64
	hold      time.Duration
}

func main() {
	base := flag.String("url", "http://localhost:8080", "Rover base URL")
	token := flag.String("token", os.Getenv("ROVER_TOKEN"), "Operator token")
	preset := flag.String("preset", "", "Apply a control preset before driving")
	script := flag.String("script", "90:0.6:2s", "Drive script: angle_deg:magnitude:duration[,...]")
	flag.Parse()

	steps, err := parseScript(*script)
	if err != nil {
		log.Fatalf("❌ Script error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := httpc.New(*base, *token)
	if *preset != "" {
		if err := api.Post(ctx, "/api/presets/"+url.PathEscape(*preset), nil, nil); err != nil {
			log.Fatalf("❌ Preset error: %v", err)
		}
		fmt.Printf("✅ Preset %s applied\n", *preset)
	}

	var status struct {
		Mode    string `json:"mode"`
		Clients int    `json:"clients"`
	}
	if err := api.Get(ctx, "/api/status", &status); err != nil {
		log.Fatalf("❌ Rover unreachable: %v", err)
	}
	fmt.Printf("🤖 Rover mode=%s operators=%d\n", status.Mode, status.Clients)

	wsURL, err := websocketURL(*base, *token)
	if err != nil {
		log.Fatalf("❌ Bad URL: %v", err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		log.Fatalf("❌ WebSocket connect failed: %v", err)
	}
	defer conn.Close()

	go readLoop(conn)

	if err := drive(ctx, conn, steps); err != nil {
		log.Printf("⚠️  Drive stopped: %v", err)
	}
}

// parseScript parses "angle:magnitude:duration" legs separated by commas.
func parseScript(s string) ([]step, error) {
	var steps []step
	for _, leg := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(leg), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("leg %q: want angle:magnitude:duration", leg)
		}
		var st step
		if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%g %g", &st.angleDeg, &st.magnitude); err != nil {
			return nil, fmt.Errorf("leg %q: %w", leg, err)
		}
		d, err := time.ParseDuration(parts[2])
		if err != nil {
			return nil, fmt.Errorf("leg %q: %w", leg, err)
		}
		if st.magnitude < 0 || st.magnitude > 1 {
			return nil, fmt.Errorf("leg %q: magnitude must be in [0,1]", leg)
		}
		st.hold = d
		steps = append(steps, st)
	}
	return steps, nil
}

// websocketURL turns the http base URL into the /ws endpoint.
func websocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// drive streams each leg at sendRate, then releases the stick.
func drive(ctx context.Context, conn *websocket.Conn, steps []step) error {
	var mu sync.Mutex
	send := func(angleDeg, mag float64) error {
		mu.Lock()
		defer mu.Unlock()
		cmd := control.JoystickCommand{
			Angle:     angleDeg * math.Pi / 180,
			Magnitude: mag,
			Timestamp: uint32(time.Now().UnixMilli()),
		}
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		return conn.WriteJSON(protocol.NewControl(cmd))
	}
	defer send(0, 0)

	ticker := time.NewTicker(sendRate)
	defer ticker.Stop()

	for _, st := range steps {
		fmt.Printf("🕹️  angle=%.0f° magnitude=%.2f for %s\n", st.angleDeg, st.magnitude, st.hold)
		end := time.After(st.hold)
	leg:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-end:
				break leg
			case <-ticker.C:
				if err := send(st.angleDeg, st.magnitude); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// readLoop prints telemetry and errors until the connection closes.
func readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypeTelemetry:
			var snap telemetry.Snapshot
			if err := msg.ParseData(&snap); err == nil {
				printTelemetry(snap)
			}
		case protocol.TypeError:
			var e protocol.Error
			if err := msg.ParseData(&e); err == nil {
				fmt.Printf("❌ rover: %s\n", e.Message)
			}
		}
	}
}

func printTelemetry(s telemetry.Snapshot) {
	fmt.Printf("📡 pwm=%4d/%4d counts=%7d/%7d rpm=%6.1f/%6.1f dist=%.3f/%.3fm bat=%.1fV\n",
		s.LeftPWM, s.RightPWM,
		s.LeftCount, s.RightCount,
		s.LeftRPM, s.RightRPM,
		s.LeftDistance, s.RightDistance,
		s.BatteryVoltage)
}
