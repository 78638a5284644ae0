// Package telemetry publishes session events to an MQTT broker.
//
// The Listener implements camsession.Listener. Callbacks arrive on the
// session worker goroutine, so every publish is fire-and-forget: the paho
// token is observed on its own goroutine and failures only bump a counter.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	camsession "github.com/visiona/camsession"
)

const (
	connectTimeout  = 5 * time.Second
	disconnectGrace = 250 // milliseconds, paho API takes a plain uint
)

// Listener publishes session lifecycle, 3A and burst telemetry under
// <prefix>/<kind> topics.
type Listener struct {
	cfg    camsession.MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

var _ camsession.Listener = (*Listener)(nil)

// New returns an unconnected listener.
func New(cfg camsession.MQTTConfig) *Listener {
	return &Listener{cfg: cfg}
}

// Connect establishes the broker connection. Reconnects are automatic
// afterwards.
func (l *Listener) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(l.cfg.BrokerURL)
	opts.SetClientID(l.cfg.ClientID)
	opts.SetUsername(l.cfg.Username)
	opts.SetPassword(l.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		l.mu.Lock()
		l.connected = true
		l.mu.Unlock()
		slog.Info("telemetry: mqtt connection established",
			"broker", l.cfg.BrokerURL, "client_id", l.cfg.ClientID)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		l.mu.Lock()
		l.connected = false
		l.mu.Unlock()
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect", "error", err)
	}

	l.client = mqtt.NewClient(opts)

	slog.Info("telemetry: connecting to mqtt broker", "broker", l.cfg.BrokerURL)

	token := l.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("telemetry: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}

	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	return nil
}

// Disconnect closes the broker connection.
func (l *Listener) Disconnect() {
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(disconnectGrace)
		slog.Info("telemetry: mqtt disconnected")
	}

	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
}

// Stats reports publish counters.
func (l *Listener) Stats() (published, errors uint64, connected bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.published, l.errors, l.connected
}

//
// camsession.Listener implementation. None of these may block.
//

func (l *Listener) OnStarted() {
	l.publish("session", map[string]any{"event": "started"})
}

func (l *Listener) OnError(err error) {
	l.publish("session", map[string]any{"event": "error", "error": err.Error()})
}

func (l *Listener) OnDisconnected() {
	l.publish("session", map[string]any{"event": "disconnected"})
}

func (l *Listener) OnStateChanged(state camsession.SessionState) {
	l.publish("session", map[string]any{"event": "state", "state": state.String()})
}

func (l *Listener) OnExposureStatus(iso int32, exposureTime int64) {
	l.publish("exposure", map[string]any{"iso": iso, "exposure_ns": exposureTime})
}

func (l *Listener) OnAutoFocusStateChanged(state camsession.FocusState, focusDistance float32) {
	l.publish("focus", map[string]any{"state": state.String(), "distance": focusDistance})
}

func (l *Listener) OnAutoExposureStateChanged(state camsession.ExposureState) {
	l.publish("exposure", map[string]any{"state": state.String()})
}

func (l *Listener) OnHdrProgress(percent float32) {
	l.publish("hdr", map[string]any{"event": "progress", "percent": percent})
}

func (l *Listener) OnHdrCompleted() {
	l.publish("hdr", map[string]any{"event": "completed"})
}

func (l *Listener) OnHdrFailed() {
	l.publish("hdr", map[string]any{"event": "failed"})
}

// publish marshals and sends one event without waiting for the broker.
func (l *Listener) publish(kind string, payload map[string]any) {
	l.mu.RLock()
	connected := l.connected
	l.mu.RUnlock()

	if l.client == nil || !connected {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		l.mu.Lock()
		l.errors++
		l.mu.Unlock()
		return
	}

	topic := fmt.Sprintf("%s/%s", l.cfg.TopicPrefix, kind)
	token := l.client.Publish(topic, l.cfg.QoS, false, data)

	go func() {
		token.Wait()
		l.mu.Lock()
		if token.Error() != nil {
			l.errors++
		} else {
			l.published++
		}
		l.mu.Unlock()
	}()
}
