package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/supervisor"
)

const (
	commandSource  = "mqtt"
	commandTimeout = 30 * time.Second
	outboxSize     = 64
)

// Transport is the subset of Client the bridge uses.
type Transport interface {
	Topics() Topics
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Commander runs lifecycle commands.
type Commander interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	RetryAfterFix(ctx context.Context) error
	ResetConfig(ctx context.Context) error
}

// CommandResult is published on <command topic>/result after each command.
type CommandResult struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type outbound struct {
	topic    string
	payload  any
	retained bool
}

// Bridge publishes supervisor activity and turns command messages into
// supervisor commands. Observer callbacks only enqueue; Run does the
// publishing so a slow broker never stalls the supervisor.
type Bridge struct {
	transport Transport
	ctrl      Commander
	topics    Topics
	qos       byte
	outbox    chan outbound
	logger    Logger
}

// NewBridge creates a Bridge over transport.
func NewBridge(transport Transport, ctrl Commander) *Bridge {
	return &Bridge{
		transport: transport,
		ctrl:      ctrl,
		topics:    transport.Topics(),
		qos:       1,
		outbox:    make(chan outbound, outboxSize),
	}
}

// SetLogger sets the logger.
func (b *Bridge) SetLogger(l Logger) {
	b.logger = l
}

// Subscribe registers the command handler.
func (b *Bridge) Subscribe() error {
	if err := b.transport.Subscribe(b.topics.AllCommands(), b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// Run publishes queued messages until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-b.outbox:
			b.publish(msg)
		}
	}
}

// OnStatus implements supervisor.StatusObserver.
func (b *Bridge) OnStatus(st supervisor.Status) {
	b.enqueue(outbound{topic: b.topics.Status(), payload: st, retained: true})
}

// OnDiagnostic implements supervisor.DiagnosticObserver.
func (b *Bridge) OnDiagnostic(d diagnostics.Diagnostic) {
	b.enqueue(outbound{topic: b.topics.Diagnostics(), payload: d})
}

func (b *Bridge) enqueue(msg outbound) {
	select {
	case b.outbox <- msg:
	default:
		b.warn("MQTT outbox full, dropping message", "topic", msg.topic)
	}
}

func (b *Bridge) publish(msg outbound) {
	data, err := json.Marshal(msg.payload)
	if err != nil {
		b.warn("encoding MQTT payload failed", "topic", msg.topic, "error", err)
		return
	}
	if err := b.transport.Publish(msg.topic, data, b.qos, msg.retained); err != nil {
		b.warn("MQTT publish failed", "topic", msg.topic, "error", err)
	}
}

// handleCommand runs on paho's goroutine; the command itself runs
// separately because a start can take seconds.
func (b *Bridge) handleCommand(topic string, _ []byte) error {
	name := b.topics.CommandName(topic)
	fn, err := b.command(name)
	if err != nil {
		return fmt.Errorf("%w: %q", err, topic)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		err := fn(supervisor.WithSource(ctx, commandSource))

		res := CommandResult{Command: name, OK: err == nil}
		if err != nil {
			res.Error = err.Error()
			b.warn("MQTT command failed", "command", name, "error", err)
		} else if b.logger != nil {
			b.logger.Info("MQTT command executed", "command", name)
		}
		b.enqueue(outbound{topic: b.topics.Command(name) + "/result", payload: res})
	}()
	return nil
}

func (b *Bridge) command(name string) (func(context.Context) error, error) {
	switch name {
	case CommandStart:
		return b.ctrl.Start, nil
	case CommandStop:
		return b.ctrl.Stop, nil
	case CommandRetry:
		return b.ctrl.RetryAfterFix, nil
	case CommandReset:
		return b.ctrl.ResetConfig, nil
	default:
		return nil, ErrUnknownCommand
	}
}

func (b *Bridge) warn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}
