package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	inboundRatePerSec = 50
	inboundBurst      = 100
)

// Server exposes SessionHub over the Socket API (a single bidirectional
// websocket per client, §4.9) plus the small HTTP status surface (§6).
type Server struct {
	hub  *SessionHub
	disp *Dispatcher
	log  *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewServer(h *SessionHub, log *slog.Logger) *Server {
	return &Server{
		hub:      h,
		disp:     NewDispatcher(h),
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Routes registers the daemon's HTTP surface onto mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/machine/status", s.handleMachineStatus)
	mux.HandleFunc("/api/controllers", s.handleControllers)
	mux.HandleFunc("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleMachineStatus answers GET /api/machine/status?port=... with that
// port's current snapshot, or every open port's if port is omitted.
func (s *Server) handleMachineStatus(w http.ResponseWriter, r *http.Request) {
	port := r.URL.Query().Get("port")
	if port == "" {
		writeJSON(w, http.StatusOK, s.hub.AllStatuses())
		return
	}
	sess, ok := s.hub.Session(port)
	if !ok {
		writeError(w, http.StatusNotFound, "port not open")
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// handleControllers answers GET /api/controllers with the list of
// discoverable serial devices.
func (s *Server) handleControllers(w http.ResponseWriter, r *http.Request) {
	ports, err := s.hub.ListPorts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ports": ports})
}

// handleWS accepts a websocket connection, registers a Client, and runs its
// write pump and read loop until the connection drops.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	id := uuid.New().String()
	client := NewClient(id, conn, s.log)
	s.hub.RegisterClient(client)
	defer s.hub.RemoveClient(id)

	ctx := r.Context()
	go client.WritePump(ctx)
	defer client.Close()

	limiter := s.limiterFor(id)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !limiter.Allow() {
			client.Enqueue(Message{Event: "error", Args: []any{"rate_limited", "too many messages"}})
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			client.Enqueue(Message{Event: "error", Args: []any{"bad_message", "invalid JSON"}})
			continue
		}
		s.dispatch(client, msg)
	}
}

func (s *Server) limiterFor(clientID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(inboundRatePerSec), inboundBurst)
		s.limiters[clientID] = lim
	}
	return lim
}

// dispatch routes one inbound {event,args} message to the hub, the
// Dispatcher's verb table, or directly to the bound session, replying with
// an error message rather than mutating state when args are malformed or a
// guard fails (§4.9/§4.10).
func (s *Server) dispatch(c *Client, msg Message) {
	arg := func(i int) any {
		if i < len(msg.Args) {
			return msg.Args[i]
		}
		return nil
	}
	str := func(i int) string {
		v, _ := arg(i).(string)
		return v
	}
	num := func(i int) float64 {
		v, _ := arg(i).(float64)
		return v
	}

	switch msg.Event {
	case "list_ports":
		ports, err := s.hub.ListPorts()
		if err != nil {
			c.Enqueue(errMsg(err))
			return
		}
		c.Enqueue(Message{Event: "ports", Args: []any{ports}})

	case "open":
		port := str(0)
		if _, err := s.hub.Open(c.ID, port); err != nil {
			c.Enqueue(errMsg(err))
			return
		}
		c.Enqueue(Message{Event: "serialport:open", Args: []any{port}})

	case "close":
		if err := s.hub.Close(str(0)); err != nil {
			c.Enqueue(errMsg(err))
		}

	case "unbind":
		s.hub.Unbind(c.ID, str(0))

	case "load":
		name, gcode := str(1), str(2)
		s.withSession(c, str(0), func(sess sessionOps) error { return sess.LoadJob(name, gcode) })
		s.log.Info("job loaded", "port", str(0), "name", name,
			"size", humanize.Bytes(uint64(len(gcode))),
			"lines", humanize.Comma(int64(strings.Count(gcode, "\n")+1)))

	case "unload":
		s.withSession(c, str(0), func(sess sessionOps) error { return sess.UnloadJob() })

	case "start":
		s.withSession(c, str(0), func(sess sessionOps) error { return sess.Start() })

	case "pause":
		s.withSession(c, str(0), func(sess sessionOps) error { return sess.Pause() })

	case "resume":
		s.withSession(c, str(0), func(sess sessionOps) error { return sess.Resume() })

	case "stop":
		s.withSession(c, str(0), func(sess sessionOps) error { return sess.StopJob() })

	case "write":
		s.withSession(c, str(0), func(sess sessionOps) error { return sess.Write(str(1)) })

	case "set_continue_on_error":
		port := str(0)
		sess, ok := s.hub.Session(port)
		if !ok {
			c.Enqueue(errMsg(portNotOpen(port)))
			return
		}
		v, _ := arg(1).(bool)
		sess.SetContinueOnError(v)

	case "jog":
		port := str(0)
		sess, ok := s.hub.Session(port)
		if !ok {
			c.Enqueue(errMsg(portNotOpen(port)))
			return
		}
		sess.JogAnalog(num(1), num(2), num(3))

	case "homing", "unlock", "reset", "feedhold", "cyclestart", "jogCancel",
		"spindle_off", "zero_all", "zero_x", "zero_y", "zero_z", "emergency_stop",
		"speed_slow", "speed_medium", "speed_fast":
		port := str(0)
		if err := s.disp.Dispatch(port, msg.Event, nil); err != nil {
			c.Enqueue(errMsg(err))
		}

	case "feedOverride", "spindleOverride":
		port := str(0)
		args := map[string]any{"step": str(1)}
		if err := s.disp.Dispatch(port, msg.Event, args); err != nil {
			c.Enqueue(errMsg(err))
		}

	case "rapidOverride":
		port := str(0)
		args := map[string]any{"step": num(1)}
		if err := s.disp.Dispatch(port, msg.Event, args); err != nil {
			c.Enqueue(errMsg(err))
		}

	case "spindle_on":
		port := str(0)
		args := map[string]any{"rpm": num(1), "cw": true}
		if v, ok := arg(2).(bool); ok {
			args["cw"] = v
		}
		if err := s.disp.Dispatch(port, msg.Event, args); err != nil {
			c.Enqueue(errMsg(err))
		}

	default:
		c.Enqueue(Message{Event: "error", Args: []any{"unknown_event", msg.Event}})
	}
}

// sessionOps is the slice of ControllerSession operations withSession needs,
// kept narrow so tests can stub it without a real link.
type sessionOps interface {
	LoadJob(name, gcode string) error
	UnloadJob() error
	Start() error
	Pause() error
	Resume() error
	StopJob() error
	Write(text string) error
}

func (s *Server) withSession(c *Client, port string, fn func(sessionOps) error) {
	sess, ok := s.hub.Session(port)
	if !ok {
		c.Enqueue(errMsg(portNotOpen(port)))
		return
	}
	if err := fn(sess); err != nil {
		c.Enqueue(errMsg(err))
	}
}

func errMsg(err error) Message {
	return Message{Event: "error", Args: []any{"operation_failed", err.Error()}}
}

func portNotOpen(port string) error {
	return fmt.Errorf("port %s not open", port)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorMessage{Error: http.StatusText(code), Message: msg})
}
