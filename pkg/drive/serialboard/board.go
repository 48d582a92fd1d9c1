// Package serialboard drives a motor/encoder controller board over a
// serial line.
//
// The board speaks a newline-terminated ASCII protocol:
//
//	M <left> <right>   set signed duty          -> OK
//	S                  stop both motors         -> OK
//	E                  read encoder registers   -> E <left> <right>
//	C <L|R>            clear one encoder        -> OK
//	T                  read ambient sensor      -> T <celsius> <rh>
//
// Any request may instead be answered with "ERR <reason>".
package serialboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

// Defaults for Config.
const (
	DefaultBaudRate = 115200
	DefaultTimeout  = 50 * time.Millisecond
)

// ErrTimeout indicates the board did not answer in time.
var ErrTimeout = errors.New("serialboard: reply timeout")

// Transport is the byte stream to the board. go.bug.st/serial ports
// satisfy it.
type Transport interface {
	io.ReadWriteCloser
}

// Config holds configuration for opening a board.
type Config struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Board is a MotorDriver and PairedEncoder backed by a serial board.
type Board struct {
	mu      sync.Mutex
	t       Transport
	buf     []byte
	timeout time.Duration
	logger  *slog.Logger
	closed  bool

	// Duty last sent for each side; M always carries both.
	duty [2]int16
}

// Open opens the serial port described by cfg.
func Open(cfg Config) (*Board, error) {
	if cfg.Port == "" {
		return nil, errors.New("serialboard: port path is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serialboard: open %s: %w", cfg.Port, err)
	}
	// Short reads let readLine enforce its own deadline.
	if err := port.SetReadTimeout(5 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialboard: set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialboard: reset input: %w", err)
	}

	b := New(port, cfg.Timeout, cfg.Logger)
	b.logger.Info("motor board opened", "port", cfg.Port, "baud", cfg.BaudRate)
	return b, nil
}

// New wraps an already open transport.
func New(t Transport, timeout time.Duration, logger *slog.Logger) *Board {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		t:       t,
		timeout: timeout,
		logger:  logger.With("component", "serialboard"),
	}
}

// SetLeft implements drive.MotorDriver.
func (b *Board) SetLeft(duty int16) error {
	return b.setDuty(drive.Left, duty)
}

// SetRight implements drive.MotorDriver.
func (b *Board) SetRight(duty int16) error {
	return b.setDuty(drive.Right, duty)
}

func (b *Board) setDuty(w drive.Wheel, duty int16) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.duty
	next[w] = drive.ClampDuty(duty)
	if err := b.request(fmt.Sprintf("M %d %d", next[drive.Left], next[drive.Right])); err != nil {
		return &drive.DriverError{Wheel: w, Op: "set", Err: err}
	}
	b.duty = next
	return nil
}

// Stop implements drive.MotorDriver.
func (b *Board) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.request("S"); err != nil {
		return fmt.Errorf("serialboard: stop: %w", err)
	}
	b.duty = [2]int16{}
	return nil
}

// Count implements drive.EncoderSource. Prefer Counts when both wheels
// are needed; each call is a full E exchange.
func (b *Board) Count(w drive.Wheel) (int32, error) {
	if !w.Valid() {
		return 0, drive.ErrInvalidWheel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	counts, err := b.readCounts()
	if err != nil {
		return 0, &drive.DriverError{Wheel: w, Op: "count", Err: err}
	}
	return counts[w], nil
}

// Counts implements drive.PairedEncoder with a single E exchange.
func (b *Board) Counts() (left, right int32, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts, err := b.readCounts()
	if err != nil {
		return 0, 0, fmt.Errorf("serialboard: counts: %w", err)
	}
	return counts[drive.Left], counts[drive.Right], nil
}

// readCounts sends E and parses both registers. Caller holds mu.
func (b *Board) readCounts() ([2]int32, error) {
	var counts [2]int32
	fields, err := b.query("E", "E", 2)
	if err != nil {
		return counts, err
	}
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return counts, fmt.Errorf("%w: %v", drive.ErrProtocol, err)
		}
		counts[i] = int32(n)
	}
	return counts, nil
}

// Clear implements drive.EncoderSource.
func (b *Board) Clear(w drive.Wheel) error {
	if !w.Valid() {
		return drive.ErrInvalidWheel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	side := "L"
	if w == drive.Right {
		side = "R"
	}
	if err := b.request("C " + side); err != nil {
		return &drive.DriverError{Wheel: w, Op: "clear", Err: err}
	}
	return nil
}

// ReadEnv implements telemetry.EnvSensor for boards fitted with a
// temperature/humidity probe.
func (b *Board) ReadEnv(ctx context.Context) (telemetry.EnvReading, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.EnvReading{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fields, err := b.query("T", "T", 2)
	if err != nil {
		return telemetry.EnvReading{}, fmt.Errorf("serialboard: env: %w", err)
	}
	temp, err1 := strconv.ParseFloat(fields[0], 64)
	hum, err2 := strconv.ParseFloat(fields[1], 64)
	if err := errors.Join(err1, err2); err != nil {
		return telemetry.EnvReading{}, fmt.Errorf("serialboard: env: %w: %v", drive.ErrProtocol, err)
	}
	return telemetry.EnvReading{Temperature: temp, Humidity: hum, Valid: true}, nil
}

// Close stops the motors and closes the port.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	if err := b.request("S"); err != nil {
		b.logger.Warn("stop on close failed", "error", err)
	}
	b.closed = true
	return b.t.Close()
}

// request sends line and expects "OK". Caller holds mu.
func (b *Board) request(line string) error {
	reply, err := b.roundTrip(line)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("%w: %q -> %q", drive.ErrProtocol, line, reply)
	}
	return nil
}

// query sends line and expects "<tag> f1 .. fn". Caller holds mu.
func (b *Board) query(line, tag string, n int) ([]string, error) {
	reply, err := b.roundTrip(line)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(reply)
	if len(fields) != n+1 || fields[0] != tag {
		return nil, fmt.Errorf("%w: %q -> %q", drive.ErrProtocol, line, reply)
	}
	return fields[1:], nil
}

func (b *Board) roundTrip(line string) (string, error) {
	if b.closed {
		return "", drive.ErrClosed
	}
	// Drop anything left over from an earlier timed-out exchange.
	b.buf = b.buf[:0]

	if _, err := io.WriteString(b.t, line+"\n"); err != nil {
		return "", fmt.Errorf("write %q: %w", line, err)
	}
	reply, err := b.readLine()
	if err != nil {
		return "", fmt.Errorf("%q: %w", line, err)
	}
	if reason, ok := strings.CutPrefix(reply, "ERR"); ok {
		return "", fmt.Errorf("board error: %s", strings.TrimSpace(reason))
	}
	return reply, nil
}

// readLine reads up to the next newline or until the reply timeout.
func (b *Board) readLine() (string, error) {
	deadline := time.Now().Add(b.timeout)
	chunk := make([]byte, 64)
	for {
		if i := bytes.IndexByte(b.buf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(b.buf[:i]))
			b.buf = append(b.buf[:0], b.buf[i+1:]...)
			return line, nil
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		n, err := b.t.Read(chunk)
		b.buf = append(b.buf, chunk[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

var (
	_ drive.MotorDriver   = (*Board)(nil)
	_ drive.PairedEncoder = (*Board)(nil)
	_ telemetry.EnvSensor = (*Board)(nil)
)
