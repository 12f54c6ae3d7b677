// Package wsplugin is the reference transport plugin: it carries the
// telemetry, alarm, event and attribute publish operations, plus inbound
// action requests and their results, over a single outbound WebSocket
// connection to a cloud endpoint, using the same envelope/ID-correlation shape as a typical
// agent execution server (agent_register / command_result style
// messages), but from the device side of the wire.
package wsplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	iotcore "github.com/nexusiot/agentcore"
)

// messageType mirrors a typical agent-execution MessageType discriminant,
// renamed to this agent's vocabulary.
type messageType string

const (
	msgRegister       messageType = "device_register"
	msgRegistered     messageType = "registered"
	msgPing           messageType = "device_ping"
	msgPong           messageType = "pong"
	msgTelemetry      messageType = "telemetry_publish"
	msgAlarm          messageType = "alarm_publish"
	msgEvent          messageType = "event_publish"
	msgAttribute      messageType = "attribute_publish"
	msgActionRequest  messageType = "action_request"
	msgActionResult   messageType = "action_result"
)

type envelope struct {
	Type      messageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func newEnvelope(t messageType, id string, payload interface{}) (envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return envelope{}, err
		}
		raw = b
	}
	return envelope{Type: t, ID: id, Timestamp: time.Now(), Payload: raw}, nil
}

type registerPayload struct {
	DeviceID string `json:"device_id"`
	Version  string `json:"version"`
}

type registeredPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type telemetryPayload struct {
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// Config configures a Plugin instance.
type Config struct {
	URL      string
	DeviceID string
	Log      zerolog.Logger
}

// Plugin implements iotcore.Plugin over a single WebSocket connection. It
// does not re-dial after the connection drops.
type Plugin struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New constructs an unconnected Plugin; Enable performs the actual dial,
// per §4.10's lifecycle split.
func New(cfg Config) *Plugin {
	return &Plugin{cfg: cfg}
}

// Initialize satisfies iotcore.Plugin; this plugin keeps no per-library
// state beyond the connection itself, so state is always nil.
func (p *Plugin) Initialize(lib *iotcore.Library) (interface{}, error) {
	return nil, nil
}

// Terminate closes the connection if still open.
func (p *Plugin) Terminate(lib *iotcore.Library, state interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Enable dials the configured URL and performs the device_register
// handshake, blocking until the server acknowledges or the dial fails.
func (p *Plugin) Enable(lib *iotcore.Library, state interface{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(p.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", p.cfg.URL, err)
	}

	reg, err := newEnvelope(msgRegister, "", registerPayload{DeviceID: p.cfg.DeviceID, Version: iotcore.LibraryVersion.String()})
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteJSON(reg); err != nil {
		conn.Close()
		return fmt.Errorf("sending registration: %w", err)
	}

	var ack envelope
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("reading registration ack: %w", err)
	}
	if ack.Type != msgRegistered {
		conn.Close()
		return fmt.Errorf("unexpected ack type %q", ack.Type)
	}
	var regAck registeredPayload
	if len(ack.Payload) > 0 {
		_ = json.Unmarshal(ack.Payload, &regAck)
	}
	if !regAck.Success {
		conn.Close()
		return fmt.Errorf("registration rejected: %s", regAck.Message)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	go p.readLoop(lib, conn)
	return nil
}

// Disable closes the connection. force has no effect here: there is
// nothing to gracefully drain beyond the socket itself.
func (p *Plugin) Disable(lib *iotcore.Library, state interface{}, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// Info reports this plugin's identity and the version bracket it supports.
// A zero Max means "any version at or above Min".
func (p *Plugin) Info() iotcore.PluginInfo {
	return iotcore.PluginInfo{
		Name:          "wsplugin",
		OrderPriority: 100,
		Version:       iotcore.Version{Major: 1},
		SupportedRange: iotcore.VersionBracket{
			Min: iotcore.Version{Major: 1},
			Max: iotcore.Version{},
		},
	}
}

// Execute fans a single pipeline step over the wire. Only the DURING step
// of publish-shaped operations actually sends anything; BEFORE/AFTER are
// no-ops for this transport, leaving room for other plugins (e.g. a local
// cache plugin) to act on those steps instead.
func (p *Plugin) Execute(lib *iotcore.Library, state interface{}, op iotcore.Operation, step iotcore.Step, deadline *iotcore.Deadline, item iotcore.PipelineItem) iotcore.Status {
	if step != iotcore.StepDuring {
		return iotcore.Success
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return iotcore.NotInitialized
	}

	var env envelope
	var err error

	switch op {
	case iotcore.OpTelemetryPublish:
		env, err = newEnvelope(msgTelemetry, "", telemetryPayload{Timestamp: time.Now()})
	case iotcore.OpAlarmPublish:
		env, err = newEnvelope(msgAlarm, "", nil)
	case iotcore.OpEventPublish:
		env, err = newEnvelope(msgEvent, "", nil)
	case iotcore.OpAttributePublish:
		env, err = newEnvelope(msgAttribute, "", nil)
	default:
		return iotcore.Success
	}
	if err != nil {
		return iotcore.ParseError
	}

	p.writeMu.Lock()
	werr := conn.WriteJSON(env)
	p.writeMu.Unlock()
	if werr != nil {
		return iotcore.IOError
	}
	return iotcore.Success
}

// readLoop handles inbound action_request messages, dispatching them
// through the library and replying with their result, mirroring a
// server-side readLoop but from the opposite end of the wire.
func (p *Plugin) readLoop(lib *iotcore.Library, conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case msgPing:
			pong, _ := newEnvelope(msgPong, env.ID, nil)
			p.writeMu.Lock()
			conn.WriteJSON(pong)
			p.writeMu.Unlock()
		case msgActionRequest:
			go p.handleActionRequest(lib, conn, env)
		}
	}
}

type actionRequestPayload struct {
	Action string            `json:"action"`
	Params map[string]string `json:"params"`
}

type actionResultPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (p *Plugin) handleActionRequest(lib *iotcore.Library, conn *websocket.Conn, env envelope) {
	var req actionRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return
	}

	params := iotcore.NewOptionsMap()
	for k, v := range req.Params {
		_ = params.SetString(k, v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, dispatchErr := lib.Dispatch(ctx, req.Action, params)
	result := actionResultPayload{Success: dispatchErr == nil}
	if dispatchErr != nil {
		result.Error = dispatchErr.Error()
	}

	resp, err := newEnvelope(msgActionResult, env.ID, result)
	if err != nil {
		return
	}
	p.writeMu.Lock()
	conn.WriteJSON(resp)
	p.writeMu.Unlock()
}
