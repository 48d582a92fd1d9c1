// Rover - differential-drive rover with joystick teleoperation.
// Serves the operator websocket and REST API, and optionally bridges
// telemetry and commands to an MQTT broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-rover/internal/config"
	rlog "github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/drive/serialboard"
	"github.com/teslashibe/go-rover/pkg/rover"
	"github.com/teslashibe/go-rover/pkg/telemetry"
	"github.com/teslashibe/go-rover/pkg/uplink"
	"github.com/teslashibe/go-rover/pkg/web"
)

type flags struct {
	configPath string
	debug      bool
	driveKind  string
	port       int
	selfTest   bool
	issueRole  string
	tokenTTL   time.Duration
}

func main() {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}
	applyFlags(&cfg, f)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	if f.issueRole != "" {
		if err := issueToken(os.Stdout, cfg.Auth.Secret, web.Role(f.issueRole), f.tokenTTL); err != nil {
			log.Fatalf("❌ Token error: %v", err)
		}
		return
	}

	rlog.Setup(rlog.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	logger := rlog.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, f.selfTest || cfg.Drive.SelfTest, logger); err != nil {
		log.Fatalf("❌ Runtime error: %v", err)
	}
}

// parseFlags parses command line flags.
func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", os.Getenv("ROVER_CONFIG"), "Path to YAML config (optional)")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.StringVar(&f.driveKind, "drive", "", "Drive backend: sim or serial (overrides config)")
	flag.IntVar(&f.port, "port", 0, "Web server port (overrides config)")
	flag.BoolVar(&f.selfTest, "self-test", false, "Run the motor self-test before serving")
	flag.StringVar(&f.issueRole, "issue-token", "", "Print an operator token for role viewer|controller and exit")
	flag.DurationVar(&f.tokenTTL, "token-ttl", 24*time.Hour, "Lifetime of tokens from -issue-token")
	flag.Parse()
	return f
}

func applyFlags(cfg *config.Rover, f flags) {
	if f.debug {
		cfg.Log.Level = "debug"
	}
	if f.driveKind != "" {
		cfg.Drive.Kind = f.driveKind
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
}

func issueToken(w io.Writer, secret string, role web.Role, ttl time.Duration) error {
	auth := web.NewAuthenticator(secret)
	if auth == nil {
		return fmt.Errorf("auth.secret is not set")
	}
	if role != web.RoleViewer && role != web.RoleController {
		return fmt.Errorf("unknown role %q", role)
	}
	tok, err := auth.Issue(string(role), role, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}

// hardware is the brought-up drive backend.
type hardware struct {
	motor   drive.MotorDriver
	encoder drive.EncoderSource // nil when the encoders failed
	env     telemetry.EnvSensor
	close   func() error
}

// openDrive brings up the motors and encoders. A motor failure is fatal;
// an encoder failure leaves the rover drivable with degraded telemetry.
func openDrive(cfg config.Drive, logger *slog.Logger) (*hardware, error) {
	switch cfg.Kind {
	case config.DriveSim:
		sim := drive.NewSim(drive.DefaultSimConfig())
		logger.Info("using simulated drive")
		return &hardware{motor: sim, encoder: sim, close: func() error { return nil }}, nil

	case config.DriveSerial:
		board, err := serialboard.Open(serialboard.Config{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Logger:   logger.With("component", "board"),
		})
		if err != nil {
			return nil, fmt.Errorf("motor driver: %w", err)
		}
		if err := board.Stop(); err != nil {
			board.Close()
			return nil, fmt.Errorf("motor driver: %w", err)
		}

		hw := &hardware{motor: board, close: board.Close}
		if err := clearEncoders(board); err != nil {
			logger.Warn("encoders unavailable, telemetry degraded", "error", err)
		} else {
			hw.encoder = board
		}
		if cfg.EnvProbe {
			hw.env = board
		}
		return hw, nil

	default:
		return nil, fmt.Errorf("unknown drive %q", cfg.Kind)
	}
}

// clearEncoders zeroes both registers so odometry starts from rest.
func clearEncoders(enc drive.EncoderSource) error {
	for _, w := range drive.Wheels {
		if err := enc.Clear(w); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg config.Rover, selfTest bool, logger *slog.Logger) error {
	hw, err := openDrive(cfg.Drive, logger)
	if err != nil {
		return err
	}
	defer hw.close()

	if selfTest {
		logger.Info("running motor self-test")
		if err := drive.TestSequence(ctx, hw.motor, 500*time.Millisecond, logger); err != nil {
			return fmt.Errorf("self-test: %w", err)
		}
	}

	r, err := rover.New(hw.motor, hw.encoder, rover.Config{
		Control:         cfg.Control.Profile,
		PulsesPerRev:    cfg.Odometry.PulsesPerRev,
		WheelDiameterMM: cfg.Odometry.WheelDiameterMM,
		QueueSize:       cfg.Control.QueueSize,
		Overflow:        cfg.OverflowPolicy(),
		ControlRate:     cfg.Control.Rate,
		ControlTimeout:  cfg.Control.Timeout,
		TelemetryRate:   cfg.Odometry.TelemetryRate,
		Env:             hw.env,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	server := web.NewServer(r, web.Options{
		Addr:       cfg.ListenAddr(),
		StaticDir:  cfg.Server.StaticDir,
		AuthSecret: cfg.Auth.Secret,
		MaxClients: cfg.Server.MaxClients,
		Logger:     rlog.Component("web"),
	})
	r.AddSink(server)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })

	if cfg.Uplink.Broker != "" {
		up, err := uplink.Dial(r, uplink.Options{
			Broker:   cfg.Uplink.Broker,
			ClientID: cfg.Uplink.ClientID,
			Username: cfg.Uplink.Username,
			Password: cfg.Uplink.Password,
			Prefix:   cfg.Uplink.Prefix,
			QoS:      cfg.Uplink.QoS,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		r.AddSink(up)
		g.Go(func() error { return up.Run(ctx) })
	}

	logger.Info("🚗 rover ready",
		"addr", cfg.ListenAddr(),
		"drive", cfg.Drive.Kind,
		"encoders", hw.encoder != nil,
		"auth", cfg.Auth.Secret != "",
		"mqtt", cfg.Uplink.Broker)

	return g.Wait()
}
