package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"worldsync.dev/internal/entity"
	"worldsync.dev/internal/mathx"
	"worldsync.dev/internal/protocol"
	"worldsync.dev/internal/sim/arena"
	"worldsync.dev/internal/wire"
)

// The bot joins a server, mirrors the broadcast stream into a local arena,
// and pushes kinematic edits for one entity it owns.
func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name = flag.String("name", "bot", "peer name")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	node := uuid.New()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		WireVersion:     wire.CurrentVersion,
		NodeID:          node.String(),
		Name:            *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	mirror := arena.New(arena.Config{LocalNode: node})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	var (
		welcomed    bool
		serverNode  uuid.UUID
		budget      = 1200
		ownedID     = uuid.New()
		nextEdit    = time.Now()
		rng         = rand.New(rand.NewSource(time.Now().UnixNano()))
		lastSummary = time.Now()
	)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			return
		}

		switch kind {
		case websocket.TextMessage:
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeWelcome:
				var w protocol.WelcomeMsg
				if err := json.Unmarshal(msg, &w); err != nil {
					continue
				}
				serverNode, _ = uuid.Parse(w.NodeID)
				if w.Params.PacketBudgetBytes > 0 {
					budget = w.Params.PacketBudgetBytes
				}
				welcomed = true
				logger.Printf("WELCOME session=%s server=%s tick_rate=%d", w.SessionID, w.NodeID, w.Params.TickRateHz)
			case protocol.TypeReject:
				var rej protocol.RejectMsg
				_ = json.Unmarshal(msg, &rej)
				logger.Fatalf("rejected: %s %s", rej.Code, rej.Message)
			}

		case websocket.BinaryMessage:
			fk, payload, err := protocol.DecodeFrame(msg)
			if err != nil {
				continue
			}
			switch fk {
			case protocol.FrameEntityData, protocol.FrameEntityDataZstd:
				records, err := protocol.DecodeDataRecords(fk, payload)
				if err != nil {
					continue
				}
				if _, err := mirror.ReadPacket(records, wire.CurrentVersion, 0, serverNode); err != nil {
					logger.Printf("ingest: %v", err)
				}
			case protocol.FrameErase:
				ids, err := protocol.DecodeEraseIDs(payload)
				if err != nil {
					continue
				}
				for _, id := range ids {
					_ = mirror.Remove(id, true)
				}
			}
		}

		if welcomed && time.Now().After(nextEdit) {
			nextEdit = time.Now().Add(2 * time.Second)
			sendEdit(conn, mirror, node, ownedID, budget, rng, logger)
		}
		if time.Since(lastSummary) >= 10*time.Second {
			lastSummary = time.Now()
			logger.Printf("mirror entities=%d moving=%d", mirror.Len(), mirror.Simulation().Moving())
		}
	}
}

// sendEdit nudges the bot-owned entity toward a fresh random velocity and
// transmits the full record.
func sendEdit(conn *websocket.Conn, mirror *arena.Arena, node, ownedID uuid.UUID, budget int, rng *rand.Rand, logger *log.Logger) {
	e, ok := mirror.Get(ownedID)
	if !ok {
		var err error
		e, err = mirror.Add(ownedID, entity.TypeBox)
		if err != nil {
			return
		}
		e.UpdateDimensions(mathx.Vec3{X: 0.5, Y: 0.5, Z: 0.5})
	}
	e.UpdateSimulationOwner(entity.NewSimulationOwner(node, 128))
	e.UpdateVelocity(mathx.Vec3{
		X: rng.Float32()*2 - 1,
		Y: 0,
		Z: rng.Float32()*2 - 1,
	})
	e.SetLastEdited(entity.SystemClock())

	p := wire.NewPacket(budget)
	state, _ := e.AppendEntityData(p, e.EntityProperties(), wire.CurrentVersion)
	if state == wire.AppendNone {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeDataFrame(p.Bytes())); err != nil {
		logger.Printf("send edit: %v", err)
	}
}
