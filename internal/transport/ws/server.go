package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"worldsync.dev/internal/entity"
	"worldsync.dev/internal/protocol"
	"worldsync.dev/internal/sim/arena"
	"worldsync.dev/internal/sim/tuning"
	"worldsync.dev/internal/wire"
)

// Server bridges websocket peers to an arena: JSON control plane
// (HELLO/WELCOME, PING/PONG) and a binary data plane (entity records,
// erase frames). All connected peers receive the same broadcast stream.
type Server struct {
	arena *arena.Arena
	tune  tuning.Tuning
	node  uuid.UUID
	clock entity.Clock
	log   *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// outMsg is one queued write; the websocket frame type matters because the
// control plane is JSON text and the data plane is binary.
type outMsg struct {
	kind int
	data []byte
}

type session struct {
	node uuid.UUID
	out  chan outMsg

	editWindow  time.Time
	edits       int
	eraseWindow time.Time
	erases      int
}

func NewServer(a *arena.Arena, tune tuning.Tuning, node uuid.UUID, clock entity.Clock, logger *log.Logger) *Server {
	if clock == nil {
		clock = entity.SystemClock
	}
	return &Server{
		arena: a,
		tune:  tune,
		node:  node,
		clock: clock,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: make(map[*session]struct{}),
	}
}

// Sessions reports the number of connected peers.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Broadcast queues one binary frame for every connected peer. Peers whose
// queue is full drop the frame; partial records reappear on the next tick.
func (s *Server) Broadcast(frame []byte) {
	if len(frame) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		select {
		case sess.out <- outMsg{kind: websocket.BinaryMessage, data: frame}:
		default:
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}

		s.mu.Lock()
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(m.kind, m.data); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			switch kind {
			case websocket.BinaryMessage:
				s.handleFrame(sess, msg)
			case websocket.TextMessage:
				s.handleControl(sess, msg)
			}
		}

		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}
}

func (s *Server) handleFrame(sess *session, msg []byte) {
	kind, payload, err := protocol.DecodeFrame(msg)
	if err != nil {
		return
	}
	switch kind {
	case protocol.FrameEntityData, protocol.FrameEntityDataZstd:
		if !allow(&sess.editWindow, &sess.edits, s.tune.RateLimits.EditWindowSecs, s.tune.RateLimits.EditMax) {
			return
		}
		records, err := protocol.DecodeDataRecords(kind, payload)
		if err != nil {
			return
		}
		res, err := s.arena.ReadPacket(records, wire.CurrentVersion, 0, sess.node)
		if err != nil && s.log != nil {
			s.log.Printf("ingest node=%s records=%d err=%v", sess.node, res.Records, err)
		}
	case protocol.FrameErase:
		if !allow(&sess.eraseWindow, &sess.erases, s.tune.RateLimits.EraseWindowSecs, s.tune.RateLimits.EraseMax) {
			return
		}
		ids, err := protocol.DecodeEraseIDs(payload)
		if err != nil {
			return
		}
		for _, id := range ids {
			_ = s.arena.Remove(id, false)
		}
	}
}

func (s *Server) handleControl(sess *session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypePing {
		return
	}
	var ping protocol.PingMsg
	if err := json.Unmarshal(msg, &ping); err != nil {
		return
	}
	b, err := json.Marshal(protocol.PongMsg{
		Type:            protocol.TypePong,
		ProtocolVersion: protocol.Version,
		PingSentAt:      ping.SentAt,
		ServerClock:     s.clock(),
	})
	if err != nil {
		return
	}
	select {
	case sess.out <- outMsg{kind: websocket.TextMessage, data: b}:
	default:
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(conn, protocol.ErrProtoVersion, "unsupported protocol_version")
		return nil
	}
	// The broadcast stream is encoded once, so every peer must speak the
	// server's wire version.
	if hello.WireVersion != wire.CurrentVersion {
		s.reject(conn, protocol.ErrProtoVersion, "unsupported wire_version")
		return nil
	}
	node, err := uuid.Parse(hello.NodeID)
	if err != nil || node == uuid.Nil {
		s.reject(conn, protocol.ErrProtoBadRequest, "bad node_id")
		return nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		WireVersion:     wire.CurrentVersion,
		SessionID:       uuid.NewString(),
		NodeID:          s.node.String(),
		ServerClock:     s.clock(),
		Params: protocol.WorldParams{
			TickRateHz:         s.tune.TickRateHz,
			PacketBudgetBytes:  s.tune.PacketBudgetBytes,
			MaxActionDataBytes: s.tune.MaxActionDataBytes,
			DeletedTTLSecs:     s.tune.DeletedTTLSecs,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}

	return &session{node: node, out: make(chan outMsg, maxQ)}
}

func (s *Server) reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.RejectMsg{
		Type:            protocol.TypeReject,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

// allow implements a fixed-window rate limit. A non-positive window or max
// disables the limit.
func allow(windowStart *time.Time, count *int, windowSecs, max int) bool {
	if windowSecs <= 0 || max <= 0 {
		return true
	}
	now := time.Now()
	if now.Sub(*windowStart) >= time.Duration(windowSecs)*time.Second {
		*windowStart = now
		*count = 0
	}
	if *count >= max {
		return false
	}
	*count++
	return true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
