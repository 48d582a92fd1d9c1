// Package web serves the operator interface of the rover: a websocket for
// joystick control and live telemetry, and a small REST API.
package web

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/fuzzy"
	"github.com/teslashibe/go-rover/pkg/hub"
	"github.com/teslashibe/go-rover/pkg/odometry"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

// Rover is what the server drives. It is implemented by rover.Rover.
type Rover interface {
	Post(cmd control.JoystickCommand) bool
	Submit(u control.ConfigUpdate) error
	Apply(ctx context.Context, u control.ConfigUpdate) error
	Profile() fuzzy.Config
	Stats() control.Stats
	Geometry() odometry.Geometry
	Telemetry() (telemetry.Snapshot, bool)
	ResetOdometry(w drive.Wheel) error
}

// Options configures the server.
type Options struct {
	// Addr is the listen address. Default: ":8080"
	Addr string

	// StaticDir, when set, is served at /.
	StaticDir string

	// AuthSecret enables HS256 token auth when non-empty.
	AuthSecret string

	// MaxClients caps websocket operators. Default: hub.DefaultMaxClients
	MaxClients int

	// ApplyTimeout bounds REST config changes. Default: 2s
	ApplyTimeout time.Duration

	Logger *slog.Logger
}

// Server is the operator web server
type Server struct {
	app    *fiber.App
	addr   string
	rover  Rover
	hub    *hub.Hub
	auth   *Authenticator
	logger *slog.Logger

	applyTimeout time.Duration
	started      time.Time

	// Role of each websocket client, by hub client ID
	roles sync.Map
}

// NewServer creates the server and its routes.
func NewServer(r Rover, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		addr:         opts.Addr,
		rover:        r,
		auth:         NewAuthenticator(opts.AuthSecret),
		logger:       opts.Logger,
		applyTimeout: opts.ApplyTimeout,
		started:      time.Now(),
	}
	s.hub = hub.New("operators", hub.Options{
		MaxClients: opts.MaxClients,
		OnMessage:  s.handleFrame,
		Logger:     opts.Logger,
	})

	app := fiber.New(fiber.Config{
		AppName:               "go-rover",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.requireController, s.handlePutConfig)
	api.Get("/presets", s.handleListPresets)
	api.Post("/presets/:name", s.requireController, s.handleApplyPreset)
	api.Post("/odometry/reset", s.requireController, s.handleResetOdometry)
	api.Get("/telemetry", s.handleTelemetry)

	// WebSocket upgrade and auth
	app.Use("/ws", s.upgrade)
	app.Get("/ws", websocket.New(s.handleWS))

	s.app = app
	return s
}

// App exposes the fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub exposes the operator hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()
	s.logger.Info("web server listening", "addr", ln.Addr().String(), "auth", s.auth != nil)

	select {
	case <-ctx.Done():
		s.logger.Info("web server shutting down")
		return s.app.ShutdownWithTimeout(5 * time.Second)
	case err := <-errCh:
		return err
	}
}

// Publish implements telemetry.Sink by broadcasting to every operator.
func (s *Server) Publish(_ context.Context, snap telemetry.Snapshot) error {
	if s.hub.ClientCount() == 0 {
		return nil
	}
	return s.hub.BroadcastJSON(protocol.NewTelemetry(snap))
}

var _ telemetry.Sink = (*Server)(nil)
