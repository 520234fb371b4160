package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/infrastructure/config"
	"github.com/nerrad567/keymap-core/internal/supervisor"
)

func TestTopics(t *testing.T) {
	topics := NewTopics("/home/keymapd/")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", topics.Status(), "home/keymapd/status"},
		{"diagnostics", topics.Diagnostics(), "home/keymapd/diagnostics"},
		{"command", topics.Command("start"), "home/keymapd/command/start"},
		{"all commands", topics.AllCommands(), "home/keymapd/command/+"},
		{"system", topics.SystemStatus(), "home/keymapd/system/status"},
		{"default prefix", NewTopics("").Status(), "keymapd/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_CommandName(t *testing.T) {
	topics := NewTopics("keymapd")
	tests := []struct {
		topic string
		want  string
	}{
		{"keymapd/command/start", "start"},
		{"keymapd/command/start/result", ""},
		{"keymapd/command/", ""},
		{"other/command/start", ""},
		{"keymapd/status", ""},
	}
	for _, tt := range tests {
		if got := topics.CommandName(tt.topic); got != tt.want {
			t.Errorf("CommandName(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestPresencePayload(t *testing.T) {
	var p presence
	if err := json.Unmarshal(presencePayload("offline", "keymapd", "unexpected_disconnect"), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Status != "offline" || p.ClientID != "keymapd" || p.Reason != "unexpected_disconnect" || p.Timestamp == "" {
		t.Errorf("presence = %+v", p)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:    config.MQTTBrokerConfig{Host: "broker", Port: 8883, TLS: true, ClientID: "keymapd-test"},
		Auth:      config.MQTTAuthConfig{Username: "u", Password: "p"},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 30},
	}
	opts := buildClientOptions(cfg)
	configureLWT(opts, NewTopics("keymapd"), cfg.Broker.ClientID)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker:8883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "keymapd-test" || opts.Username != "u" {
		t.Errorf("identity = %q/%q", opts.ClientID, opts.Username)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not set")
	}
	if !opts.WillEnabled || opts.WillTopic != "keymapd/system/status" || !opts.WillRetained {
		t.Errorf("will = %v %q %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if opts.MaxReconnectInterval != 30*time.Second {
		t.Errorf("MaxReconnectInterval = %v", opts.MaxReconnectInterval)
	}
}

func TestClient_ValidationBeforeConnection(t *testing.T) {
	c := &Client{subscriptions: map[string]subscription{}}
	if c.IsConnected() {
		t.Error("IsConnected() should be false for an unconnected client")
	}
	if err := c.Publish("", nil, 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Publish("a", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad QoS error = %v", err)
	}
	if err := c.Publish("a", make([]byte, maxPayloadSize+1), 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversize error = %v", err)
	}
	if err := c.Publish("a", []byte("x"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if err := c.Subscribe("a", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeTransport struct {
	mu       sync.Mutex
	msgs     []published
	handlers map[string]MessageHandler
	fail     error
}

func (f *fakeTransport) Topics() Topics { return NewTopics("keymapd") }

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, published{topic, payload, retained})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, h MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]MessageHandler{}
	}
	f.handlers[topic] = h
	return nil
}

func (f *fakeTransport) find(topic string) (published, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.topic == topic {
			return m, true
		}
	}
	return published{}, false
}

type fakeCommander struct {
	mu      sync.Mutex
	calls   []string
	sources []string
	err     error
}

func (f *fakeCommander) rec(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.sources = append(f.sources, supervisor.SourceFrom(ctx))
	return f.err
}

func (f *fakeCommander) Start(ctx context.Context) error         { return f.rec(ctx, "start") }
func (f *fakeCommander) Stop(ctx context.Context) error          { return f.rec(ctx, "stop") }
func (f *fakeCommander) RetryAfterFix(ctx context.Context) error { return f.rec(ctx, "retry") }
func (f *fakeCommander) ResetConfig(ctx context.Context) error   { return f.rec(ctx, "reset") }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runBridge(t *testing.T, tr *fakeTransport, ctrl *fakeCommander) *Bridge {
	t.Helper()
	b := NewBridge(tr, ctrl)
	if err := b.Subscribe(); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx) //nolint:errcheck // returns nil on cancel
	return b
}

func TestBridge_PublishesStatusAndDiagnostics(t *testing.T) {
	tr := &fakeTransport{}
	b := runBridge(t, tr, &fakeCommander{})

	b.OnStatus(supervisor.Status{State: supervisor.StateNeedsHelp, Reason: "Permission required"})
	b.OnDiagnostic(diagnostics.New(diagnostics.SeverityError, diagnostics.CategoryPermissions, "No input access", ""))

	waitFor(t, "status publish", func() bool { _, ok := tr.find("keymapd/status"); return ok })
	waitFor(t, "diagnostic publish", func() bool { _, ok := tr.find("keymapd/diagnostics"); return ok })

	msg, _ := tr.find("keymapd/status")
	if !msg.retained {
		t.Error("status should be retained")
	}
	var st supervisor.Status
	if err := json.Unmarshal(msg.payload, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.State != supervisor.StateNeedsHelp || st.Reason != "Permission required" {
		t.Errorf("status = %+v", st)
	}
	if d, _ := tr.find("keymapd/diagnostics"); d.retained {
		t.Error("diagnostics should not be retained")
	}
}

func TestBridge_Commands(t *testing.T) {
	tr := &fakeTransport{}
	ctrl := &fakeCommander{}
	runBridge(t, tr, ctrl)

	handler := tr.handlers["keymapd/command/+"]
	if handler == nil {
		t.Fatal("command handler not subscribed")
	}

	for _, name := range []string{CommandStart, CommandStop, CommandRetry, CommandReset} {
		if err := handler("keymapd/command/"+name, nil); err != nil {
			t.Fatalf("handler(%s) error = %v", name, err)
		}
		waitFor(t, name+" result", func() bool { _, ok := tr.find("keymapd/command/" + name + "/result"); return ok })

		msg, _ := tr.find("keymapd/command/" + name + "/result")
		var res CommandResult
		if err := json.Unmarshal(msg.payload, &res); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !res.OK || res.Command != name {
			t.Errorf("result = %+v", res)
		}
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.calls) != 4 {
		t.Fatalf("calls = %v, want 4", ctrl.calls)
	}
	for _, s := range ctrl.sources {
		if s != "mqtt" {
			t.Errorf("source = %q, want mqtt", s)
		}
	}
}

func TestBridge_CommandFailureAndUnknown(t *testing.T) {
	tr := &fakeTransport{}
	ctrl := &fakeCommander{err: supervisor.ErrNotRunning}
	runBridge(t, tr, ctrl)
	handler := tr.handlers["keymapd/command/+"]

	if err := handler("keymapd/command/explode", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command error = %v", err)
	}

	if err := handler("keymapd/command/start", nil); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	waitFor(t, "failure result", func() bool { _, ok := tr.find("keymapd/command/start/result"); return ok })
	msg, _ := tr.find("keymapd/command/start/result")
	var res CommandResult
	if err := json.Unmarshal(msg.payload, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.OK || res.Error == "" {
		t.Errorf("result = %+v, want failure", res)
	}
}
