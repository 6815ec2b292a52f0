package hub

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/rsteckler/cncd/internal/cncerr"
	"github.com/rsteckler/cncd/internal/config"
	"github.com/rsteckler/cncd/internal/protocol"
	"github.com/rsteckler/cncd/internal/serialport"
	"github.com/rsteckler/cncd/internal/session"
)

// opener abstracts how a port becomes a live serialport.Link, so tests can
// substitute a FakeLink factory instead of dialing real hardware.
type opener func(port string, baud int) (serialport.Link, error)

// sessionHandle is the arena entry the SessionHub keeps per open port: one
// ControllerSession plus the set of clients currently bound to it. Clients
// hold only the port string (a handle), never a pointer into this map, so
// dropping the last client never drops the session (§9's "arena + handle").
type sessionHandle struct {
	session *session.ControllerSession
	mu      sync.Mutex
	clients map[string]*Client
}

// SessionHub is the single point every network client talks to: it accepts
// client bindings, fans session events out to them, and routes high-level
// commands into the right session (§4.9).
type SessionHub struct {
	mu      sync.Mutex
	ports   map[string]*sessionHandle
	clients map[string]*Client
	cfg     *config.ControllerConfig
	log     *slog.Logger
	opener  opener
	trig    Trigger
}

// Trigger is the subset of internal/trigger.EventTrigger the hub needs,
// kept as an interface here to avoid a hub<->trigger import cycle.
type Trigger interface {
	Fire(event string, feed func(items ...session.FeedItem))
}

// NewSessionHub builds a hub that opens real hardware through
// serialport.Open.
func NewSessionHub(cfg *config.ControllerConfig, log *slog.Logger, trig Trigger) *SessionHub {
	h := &SessionHub{
		ports:   make(map[string]*sessionHandle),
		clients: make(map[string]*Client),
		cfg:     cfg,
		log:     log,
		trig:    trig,
	}
	h.opener = func(port string, baud int) (serialport.Link, error) {
		return serialport.Open(port, baud, log)
	}
	return h
}

// NewTestSessionHub builds a hub whose ports are backed by FakeLink
// factories instead of real hardware, for the scenario tests in
// hub_test.go.
func NewTestSessionHub(cfg *config.ControllerConfig, log *slog.Logger, opener func(port string, baud int) (serialport.Link, error)) *SessionHub {
	return &SessionHub{
		ports:   make(map[string]*sessionHandle),
		clients: make(map[string]*Client),
		cfg:     cfg,
		log:     log,
		opener:  opener,
	}
}

// ListPorts enumerates discoverable serial devices.
func (h *SessionHub) ListPorts() ([]string, error) {
	return serialport.ListPorts()
}

// RegisterClient adds a newly-connected client to the hub's registry.
func (h *SessionHub) RegisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// RemoveClient unbinds client from every session it's bound to and drops
// it from the registry. This never closes the underlying sessions.
func (h *SessionHub) RemoveClient(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	for _, port := range c.BoundPorts() {
		h.unbindFromHandle(port, id)
	}
}

// Open opens port if not already open (idempotent: a second open just
// returns the existing session) and binds clientID to it.
func (h *SessionHub) Open(clientID, port string) (*session.ControllerSession, error) {
	h.mu.Lock()
	handle, exists := h.ports[port]
	if !exists {
		profile := h.cfg.ProfileFor(port)
		link, err := h.opener(port, profile.Baud)
		if err != nil {
			h.mu.Unlock()
			return nil, cncerr.IoError(port, err)
		}
		variant := protocol.ByName(profile.Variant)
		scfg := session.DefaultConfig()
		scfg.ContinueOnError = profile.ContinueOnError
		scfg.StripBlankLines = profile.StripBlankLines
		scfg.Jog = toJogConfig(h.cfg.Jog, profile.Imperial)
		scfg.StatusPollIdle = h.cfg.StatusPollInterval
		scfg.StatusPollActive = h.cfg.StatusPollIntervalActive
		scfg.WatchdogIdle = h.cfg.WatchdogIdleTimeout

		handle = &sessionHandle{clients: make(map[string]*Client)}
		sink := &hubSink{hub: h, port: port, handle: handle}
		sess := session.New(port, variant, link, sink, scfg)
		handle.session = sess
		h.ports[port] = handle
		go sess.Run()
	}
	h.mu.Unlock()

	h.mu.Lock()
	client := h.clients[clientID]
	h.mu.Unlock()
	if client != nil {
		client.Bind(port)
	}
	handle.mu.Lock()
	if client != nil {
		handle.clients[clientID] = client
	}
	handle.mu.Unlock()

	return handle.session, nil
}

// Close tears down the session on port entirely (all bound clients receive
// serialport:close), regardless of how many are still bound — this is the
// explicit close operation, distinct from a single client disconnecting.
func (h *SessionHub) Close(port string) error {
	h.mu.Lock()
	handle, ok := h.ports[port]
	if ok {
		delete(h.ports, port)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	handle.mu.Lock()
	for _, c := range handle.clients {
		c.Unbind(port)
		c.Enqueue(Message{Event: "serialport:close", Args: []any{port}})
	}
	handle.mu.Unlock()
	return handle.session.Close()
}

func (h *SessionHub) unbindFromHandle(port, clientID string) {
	h.mu.Lock()
	handle, ok := h.ports[port]
	h.mu.Unlock()
	if !ok {
		return
	}
	handle.mu.Lock()
	delete(handle.clients, clientID)
	handle.mu.Unlock()
}

// Unbind detaches clientID from port without affecting the session itself
// (dropping the last client does not drop the session, per §9).
func (h *SessionHub) Unbind(clientID, port string) {
	h.mu.Lock()
	c := h.clients[clientID]
	h.mu.Unlock()
	if c != nil {
		c.Unbind(port)
	}
	h.unbindFromHandle(port, clientID)
}

// Session returns the live session for port, if open.
func (h *SessionHub) Session(port string) (*session.ControllerSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, ok := h.ports[port]
	if !ok {
		return nil, false
	}
	return handle.session, true
}

// Write routes a one-off command through the Feeder, rejecting with
// SessionBusy if the session is Running (§4.9). The payload is not
// inspected: a realtime byte passed here is rejected while Running too;
// ControllerSession.WriteRealtime sends one regardless of Workflow state.
func (h *SessionHub) Write(port, text string) error {
	sess, ok := h.Session(port)
	if !ok {
		return fmt.Errorf("port %s not open", port)
	}
	return sess.Write(text)
}

// AllStatuses returns every open port's machine-status snapshot.
func (h *SessionHub) AllStatuses() map[string]session.MachineStatusSnapshot {
	h.mu.Lock()
	ports := make([]string, 0, len(h.ports))
	handles := make([]*sessionHandle, 0, len(h.ports))
	for p, hd := range h.ports {
		ports = append(ports, p)
		handles = append(handles, hd)
	}
	h.mu.Unlock()

	out := make(map[string]session.MachineStatusSnapshot, len(ports))
	for i, p := range ports {
		out[p] = handles[i].session.Status()
	}
	return out
}

func toJogConfig(j config.JogConfig, imperial bool) session.JogConfig {
	return session.JogConfig{
		Deadzone:      j.Deadzone,
		Sensitivity:   j.Sensitivity,
		InvertX:       j.InvertX,
		InvertY:       j.InvertY,
		InvertZ:       j.InvertZ,
		MaxFeedXY:     j.MaxFeedXY,
		MaxFeedZ:      j.MaxFeedZ,
		PlannerBlocks: j.PlannerBlocks,
		Imperial:      imperial,
	}
}
