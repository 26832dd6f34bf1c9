package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"wallnav.ai/internal/protocol"
	"wallnav.ai/internal/sim/locations"
	"wallnav.ai/internal/sim/run"
)

const (
	maxHistoryTail = 4096
	maxEveryN      = 1000
)

type Server struct {
	runner *run.Runner
	drag   *locations.Drag
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
	last     *run.Frame
}

type session struct {
	id       string
	stateOut chan []byte
	ctrlOut  chan []byte

	mu  sync.Mutex
	sub protocol.SubscribeMsg
}

func (ss *session) settings() protocol.SubscribeMsg {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.sub
}

func (ss *session) update(sub protocol.SubscribeMsg) {
	ss.mu.Lock()
	ss.sub = sub
	ss.mu.Unlock()
}

func NewServer(r *run.Runner, drag *locations.Drag, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		runner:   r,
		drag:     drag,
		log:      logger,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions reports how many observers are connected.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		scen := s.runner.Scenario()
		resp := protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			RunID:           s.runner.ID(),
			Scenario:        scen.Name,
			Start:           protocol.Pose{X: scen.Start.X, Y: scen.Start.Y, Heading: scen.Start.Heading},
			Walls:           make([][4]float64, 0, len(scen.Walls)),
			Locations:       locationsOf(s.runner.Table().Entries()),
			DragEpsilon:     s.drag.Epsilon(),
		}
		for _, w := range scen.Walls {
			resp.Walls = append(resp.Walls, [4]float64{w.From[0], w.From[1], w.To[0], w.To[1]})
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		normalizeSubscribe(&sub)

		ss := &session{
			id:       fmt.Sprintf("O%d", s.nextID.Add(1)),
			stateOut: make(chan []byte, 8),
			ctrlOut:  make(chan []byte, 64),
			sub:      sub,
		}
		last := s.join(ss)
		defer s.leave(ss.id)
		s.log.Printf("observer %s joined from %s", ss.id, r.RemoteAddr)
		if last != nil {
			if b := s.encodeState(*last, sub); b != nil {
				sendLatest(ss.stateOut, b)
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. Control replies go out ahead of queued states.
		writeErr := make(chan error, 1)
		go func() {
			write := func(b []byte) error {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				return conn.WriteMessage(websocket.TextMessage, b)
			}
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-ss.ctrlOut:
					if err := write(b); err != nil {
						writeErr <- err
						return
					}
				case b := <-ss.stateOut:
					if err := write(b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates and DRAG gestures.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handle(ss, msg)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		s.log.Printf("observer %s left", ss.id)

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handle(ss *session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.reply(ss, protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrProtoBadRequest, Message: "bad json"})
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.reply(ss, protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrProtoVersion,
			Message: fmt.Sprintf("protocol_version %q, want %q", base.ProtocolVersion, protocol.Version)})
		return
	}
	switch base.Type {
	case protocol.TypeSubscribe:
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			s.reply(ss, protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrProtoBadRequest, Message: "bad subscribe"})
			return
		}
		normalizeSubscribe(&sub)
		ss.update(sub)
	case protocol.TypeDrag:
		var d protocol.DragMsg
		if err := json.Unmarshal(msg, &d); err != nil {
			s.reply(ss, protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrProtoBadRequest, Message: "bad drag"})
			return
		}
		s.reply(ss, s.applyDrag(ss.id, d))
	default:
		s.reply(ss, protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrProtoBadRequest,
			Message: fmt.Sprintf("unexpected message type %q", base.Type)})
	}
}

func (s *Server) applyDrag(sid string, d protocol.DragMsg) protocol.AckMsg {
	ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: protocol.TypeDrag, Phase: d.Phase}
	if !finite(d.X, d.Y) {
		ack.Code, ack.Message = protocol.ErrBadRequest, "coordinates must be finite"
		return ack
	}
	var (
		name string
		ok   bool
	)
	switch d.Phase {
	case protocol.DragPress:
		name, ok = s.drag.Press(d.X, d.Y)
		if !ok {
			ack.Code, ack.Message = protocol.ErrNoTarget, "no location under cursor"
			return ack
		}
	case protocol.DragMove, protocol.DragRelease:
		if d.Phase == protocol.DragMove {
			name, ok = s.drag.Move(d.X, d.Y)
		} else {
			name, ok = s.drag.Release(d.X, d.Y)
		}
		if name == "" {
			ack.Code, ack.Message = protocol.ErrNotHolding, "nothing held"
			return ack
		}
		if !ok {
			ack.Location = name
			ack.Code, ack.Message = protocol.ErrInvalidTarget, "location could not be moved"
			return ack
		}
	default:
		ack.Code, ack.Message = protocol.ErrBadRequest, fmt.Sprintf("unknown phase %q", d.Phase)
		return ack
	}
	if d.Phase != protocol.DragMove {
		s.log.Printf("observer %s drag %s %s at (%.2f,%.2f)", sid, d.Phase, name, d.X, d.Y)
	}
	ack.Accepted = true
	ack.Location = name
	return ack
}

func (s *Server) reply(ss *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case ss.ctrlOut <- b:
	default:
		// Client is not reading; it will learn from the next STATE.
	}
}

func (s *Server) join(ss *session) *run.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ss.id] = ss
	return s.last
}

func (s *Server) leave(sid string) {
	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()
}

// Publish fans a run frame out to every observer. It never blocks: slow
// observers only ever see the most recent states.
func (s *Server) Publish(f run.Frame) {
	s.mu.Lock()
	s.last = &f
	sessions := make([]*session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()

	for _, ss := range sessions {
		sub := ss.settings()
		if n := uint64(sub.EveryN); n > 1 && f.Step.Seq%n != 0 && !f.Step.Crashed {
			continue
		}
		if b := s.encodeState(f, sub); b != nil {
			sendLatest(ss.stateOut, b)
		}
	}
}

func (s *Server) encodeState(f run.Frame, sub protocol.SubscribeMsg) []byte {
	st := f.Step
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		RunID:           f.RunID,
		Mission:         f.Mission,
		Step:            st.Seq,
		Steer:           st.Steer.String(),
		Pose:            protocol.Pose{X: st.Pose.X, Y: st.Pose.Y, Heading: st.Pose.Heading},
		Whisker:         st.Whisker,
		Crashed:         st.Crashed,
		Locations:       locationsOf(f.Locations),
	}
	if st.CrashPoint != nil {
		cp := st.CrashPoint.Array()
		msg.CrashPoint = &cp
	}
	tail := f.Tail
	if n := sub.HistoryTail; len(tail) > n {
		tail = tail[len(tail)-n:]
	}
	for _, p := range tail {
		msg.Tail = append(msg.Tail, p.Array())
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Printf("observer: encode state %d: %v", st.Seq, err)
		return nil
	}
	return b
}

func locationsOf(entries []locations.Entry) []protocol.Location {
	out := make([]protocol.Location, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.Location{Name: e.Name, X: e.X, Y: e.Y})
	}
	return out
}

// sendLatest queues b, evicting the oldest queued message when full.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func normalizeSubscribe(sub *protocol.SubscribeMsg) {
	if sub.EveryN <= 0 {
		sub.EveryN = 1
	}
	if sub.EveryN > maxEveryN {
		sub.EveryN = maxEveryN
	}
	if sub.HistoryTail < 0 {
		sub.HistoryTail = 0
	}
	if sub.HistoryTail > maxHistoryTail {
		sub.HistoryTail = maxHistoryTail
	}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
