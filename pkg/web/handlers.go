package web

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/fuzzy"
	"github.com/teslashibe/go-rover/pkg/hub"
	"github.com/teslashibe/go-rover/pkg/odometry"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	State     string            `json:"state"`
	Uptime    int64             `json:"uptime"`
	Clients   int               `json:"clients"`
	Mode      fuzzy.Mode        `json:"mode"`
	Scheduler control.Stats     `json:"scheduler"`
	Geometry  odometry.Geometry `json:"geometry"`
}

// PresetsResponse is the body of GET /api/presets.
type PresetsResponse struct {
	Names   []string                `json:"names"`
	Presets map[string]fuzzy.Config `json:"presets"`
	Modes   []fuzzy.Mode            `json:"modes"`
	Curves  []fuzzy.Curve           `json:"curves"`
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		State:     "ok",
		Uptime:    int64(time.Since(s.started) / time.Second),
		Clients:   s.hub.ClientCount(),
		Mode:      s.rover.Profile().Mode,
		Scheduler: s.rover.Stats(),
		Geometry:  s.rover.Geometry(),
	}
}

// handleStatus returns rover health
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleGetConfig returns the active control profile
func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	return c.JSON(s.rover.Profile())
}

// handlePutConfig replaces the control profile. Fields absent from the
// body keep their current values.
func (s *Server) handlePutConfig(c *fiber.Ctx) error {
	cfg := s.rover.Profile()
	if err := json.Unmarshal(c.Body(), &cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.apply(c, control.ReplaceConfig{Config: cfg}); err != nil {
		return err
	}
	return c.JSON(s.rover.Profile())
}

// handleListPresets returns the named presets and the modes and curves
// a custom profile may use
func (s *Server) handleListPresets(c *fiber.Ctx) error {
	return c.JSON(PresetsResponse{
		Names:   fuzzy.PresetNames(),
		Presets: fuzzy.Presets(),
		Modes:   fuzzy.Modes(),
		Curves:  fuzzy.Curves(),
	})
}

// handleApplyPreset switches to a named preset
func (s *Server) handleApplyPreset(c *fiber.Ctx) error {
	name := c.Params("name")
	if _, err := fuzzy.GetPreset(name); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.apply(c, control.ApplyPreset{Name: name}); err != nil {
		return err
	}
	return c.JSON(s.rover.Profile())
}

// handleResetOdometry clears one wheel, or both when none is given
func (s *Server) handleResetOdometry(c *fiber.Ctx) error {
	wheels := drive.Wheels[:]
	if q := c.Query("wheel"); q != "" {
		w, err := drive.ParseWheel(q)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		wheels = []drive.Wheel{w}
	}

	reset := make([]string, 0, len(wheels))
	for _, w := range wheels {
		if err := s.rover.ResetOdometry(w); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		reset = append(reset, w.String())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"reset": reset})
}

// handleTelemetry returns the latest snapshot
func (s *Server) handleTelemetry(c *fiber.Ctx) error {
	snap, ok := s.rover.Telemetry()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no telemetry yet"})
	}
	return c.JSON(protocol.NewTelemetry(snap))
}

// apply runs a config update through the scheduler and maps its error.
func (s *Server) apply(c *fiber.Ctx, u control.ConfigUpdate) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.applyTimeout)
	defer cancel()

	err := s.rover.Apply(ctx, u)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "control loop not responding"})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
}

// =============================================================================
// WebSocket
// =============================================================================

// upgrade admits websocket requests and records the caller's role.
func (s *Server) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	role, err := s.authenticate(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	c.Locals("role", role)
	return c.Next()
}

// handleWS serves one operator connection
func (s *Server) handleWS(conn *websocket.Conn) {
	role, _ := conn.Locals("role").(Role)

	client, err := s.hub.Register(conn)
	if err != nil {
		if data, encErr := protocol.Encode(protocol.NewError(err)); encErr == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
		s.logger.Warn("operator refused", "error", err)
		return
	}

	s.roles.Store(client.ID, role)
	defer s.roles.Delete(client.ID)

	s.logger.Info("operator connected", "id", client.ID, "role", role)
	client.Run()
}

func (s *Server) roleOf(c *hub.Client) Role {
	if r, ok := s.roles.Load(c.ID); ok {
		return r.(Role)
	}
	return RoleViewer
}

// handleFrame dispatches one inbound websocket frame.
func (s *Server) handleFrame(c *hub.Client, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.reply(c, protocol.NewError(err))
		return
	}

	switch msg.Type {
	case protocol.TypeControl:
		if !s.roleOf(c).CanControl() {
			s.reply(c, protocol.NewError(ErrForbidden))
			return
		}
		cmd, err := msg.Control()
		if err != nil {
			s.reply(c, protocol.NewError(err))
			return
		}
		s.rover.Post(cmd)

	case protocol.TypeConfig:
		if !s.roleOf(c).CanControl() {
			s.reply(c, protocol.NewError(ErrForbidden))
			return
		}
		cfg, err := msg.Config()
		if err != nil {
			s.reply(c, protocol.NewError(err))
			return
		}
		u, err := control.ParseUpdate(cfg.Param, cfg.Value)
		if err != nil {
			s.reply(c, protocol.NewError(err))
			return
		}
		if err := s.rover.Submit(u); err != nil {
			s.reply(c, protocol.NewError(err))
		}

	case protocol.TypePing:
		s.reply(c, protocol.NewPong())

	case protocol.TypePong:

	case protocol.TypeStatus:
		st := protocol.NewStatus("ok")
		st.Mode = s.rover.Profile().Mode.String()
		st.Clients = s.hub.ClientCount()
		s.reply(c, st)

	default:
		s.reply(c, protocol.NewError(protocol.ErrWrongType))
	}
}

func (s *Server) reply(c *hub.Client, v any) {
	if err := c.SendJSON(v); err != nil {
		s.logger.Error("reply encode failed", "error", err)
	}
}
