// Package uplink bridges the rover to an MQTT broker: telemetry is
// published and remote control/config frames are accepted.
//
// Topics, relative to a prefix (default "rover"):
//
//	<prefix>/telemetry   published, one telemetry frame per snapshot
//	<prefix>/control     subscribed, control frames
//	<prefix>/config      subscribed, config frames
//
// Frames use the same JSON as the operator websocket.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

// Defaults for Options.
const (
	DefaultPrefix         = "rover"
	DefaultPublishTimeout = 200 * time.Millisecond
)

// ErrNotConnected indicates a publish while the broker is unreachable.
var ErrNotConnected = errors.New("uplink: not connected")

// Client is the subset of mqtt.Client used by the uplink.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Commander receives remote commands. It is implemented by rover.Rover.
type Commander interface {
	Post(cmd control.JoystickCommand) bool
	Submit(u control.ConfigUpdate) error
}

// Options configures the uplink.
type Options struct {
	// Broker URL, e.g. "tcp://localhost:1883".
	Broker   string
	ClientID string
	Username string
	Password string

	// Prefix roots every topic. Default: "rover"
	Prefix string

	// QoS for publish and subscribe.
	QoS byte

	// PublishTimeout bounds one telemetry publish. Default: 200ms
	PublishTimeout time.Duration

	Logger *slog.Logger
}

// Uplink is a telemetry.Sink and a remote command source.
type Uplink struct {
	client  Client
	cmd     Commander
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	// Set for paho clients, whose OnConnect handler subscribes.
	subscribeOnConnect bool

	published atomic.Uint64
	received  atomic.Uint64
	rejected  atomic.Uint64
}

func (o *Options) defaults() {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// New creates an uplink over an existing client. Subscriptions are made
// by Connect.
func New(client Client, cmd Commander, opts Options) *Uplink {
	opts.defaults()
	return &Uplink{
		client:  client,
		cmd:     cmd,
		prefix:  opts.Prefix,
		qos:     opts.QoS,
		timeout: opts.PublishTimeout,
		logger:  opts.Logger.With("component", "uplink"),
	}
}

// Dial creates a paho client for opts.Broker. The client reconnects on its
// own and resubscribes after every reconnect.
func Dial(cmd Commander, opts Options) (*Uplink, error) {
	if opts.Broker == "" {
		return nil, errors.New("uplink: broker is required")
	}
	opts.defaults()
	if opts.ClientID == "" {
		opts.ClientID = opts.Prefix + "-" + uuid.NewString()[:8]
	}

	u := New(nil, cmd, opts)
	u.subscribeOnConnect = true

	mo := mqtt.NewClientOptions()
	mo.AddBroker(opts.Broker)
	mo.SetClientID(opts.ClientID)
	if opts.Username != "" {
		mo.SetUsername(opts.Username)
		mo.SetPassword(opts.Password)
	}
	mo.SetAutoReconnect(true)
	mo.SetConnectRetry(true)
	mo.SetConnectRetryInterval(5 * time.Second)
	mo.SetOnConnectHandler(func(mqtt.Client) {
		u.logger.Info("connected to broker", "broker", opts.Broker)
		if err := u.subscribe(); err != nil {
			u.logger.Error("subscribe failed", "error", err)
		}
	})
	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		u.logger.Warn("broker connection lost", "error", err)
	})

	u.client = mqtt.NewClient(mo)
	return u, nil
}

// Topic returns the full topic for a leaf name.
func (u *Uplink) Topic(leaf string) string {
	return u.prefix + "/" + leaf
}

// Connect connects to the broker and subscribes to the command topics.
func (u *Uplink) Connect(ctx context.Context) error {
	if err := wait(ctx, u.client.Connect()); err != nil {
		return fmt.Errorf("uplink: connect: %w", err)
	}
	if u.subscribeOnConnect {
		return nil
	}
	return u.subscribe()
}

func (u *Uplink) subscribe() error {
	routes := []struct {
		leaf    string
		handler mqtt.MessageHandler
	}{
		{"control", u.handleControl},
		{"config", u.handleConfig},
	}
	for _, r := range routes {
		tok := u.client.Subscribe(u.Topic(r.leaf), u.qos, r.handler)
		if !tok.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("uplink: subscribe %s: timeout", r.leaf)
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("uplink: subscribe %s: %w", r.leaf, err)
		}
	}
	return nil
}

// Run connects and stays up until ctx is cancelled. Cancelling while the
// first connect is still retrying is not an error.
func (u *Uplink) Run(ctx context.Context) error {
	if err := u.Connect(ctx); err != nil {
		if ctx.Err() == nil {
			return err
		}
	} else {
		<-ctx.Done()
	}
	u.client.Disconnect(250)
	u.logger.Info("uplink stopped",
		"published", u.published.Load(),
		"received", u.received.Load(),
		"rejected", u.rejected.Load())
	return nil
}

// Publish implements telemetry.Sink.
func (u *Uplink) Publish(ctx context.Context, snap telemetry.Snapshot) error {
	if !u.client.IsConnected() {
		return ErrNotConnected
	}
	data, err := protocol.Encode(protocol.NewTelemetry(snap))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	if err := wait(ctx, u.client.Publish(u.Topic("telemetry"), u.qos, false, data)); err != nil {
		return fmt.Errorf("uplink: publish: %w", err)
	}
	u.published.Add(1)
	return nil
}

func (u *Uplink) handleControl(_ mqtt.Client, msg mqtt.Message) {
	u.received.Add(1)
	m, err := protocol.ParseMessage(msg.Payload())
	if err != nil {
		u.reject(msg, err)
		return
	}
	cmd, err := m.Control()
	if err != nil {
		u.reject(msg, err)
		return
	}
	u.cmd.Post(cmd)
}

func (u *Uplink) handleConfig(_ mqtt.Client, msg mqtt.Message) {
	u.received.Add(1)
	m, err := protocol.ParseMessage(msg.Payload())
	if err != nil {
		u.reject(msg, err)
		return
	}
	cfg, err := m.Config()
	if err != nil {
		u.reject(msg, err)
		return
	}
	upd, err := control.ParseUpdate(cfg.Param, cfg.Value)
	if err != nil {
		u.reject(msg, err)
		return
	}
	if err := u.cmd.Submit(upd); err != nil {
		u.reject(msg, err)
		return
	}
	u.logger.Info("remote config", "update", upd.String())
}

func (u *Uplink) reject(msg mqtt.Message, err error) {
	u.rejected.Add(1)
	u.logger.Warn("rejected remote frame", "topic", msg.Topic(), "error", err)
}

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ telemetry.Sink = (*Uplink)(nil)
