package main

import (
	"encoding/json"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tileworld.dev/internal/config"
	"tileworld.dev/internal/protocol"
)

// bot is a headless viewer: it pans across the world and occasionally
// places a tile so the streaming path can be exercised end to end.
func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "viewer name")
		step   = flag.Int("step", 25, "tiles to pan per move")
		every  = flag.Duration("every", 2*time.Second, "pan interval")
		place  = flag.String("place", "", "tile name to place on each move (empty disables edits)")
		startX = flag.Int("x", 0, "starting column")
	)
	flag.Parse()

	logger, err := config.NewLogger(config.LoggingConfig{Level: "info", Format: "console"})
	if err != nil {
		panic(err)
	}
	logger = logger.Named("bot")
	defer func() { _ = logger.Sync() }()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ViewerName:      *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 32},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatal("send HELLO", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	msgs := make(chan []byte, 32)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Info("connection closed", zap.Error(err))
				return
			}
			msgs <- msg
		}
	}()

	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	x := *startX
	var surface map[int]int
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			surface = handle(logger, msg, surface)
		case <-ticker.C:
			x += *step * (r.Intn(3) - 1)
			view := protocol.ViewMsg{Type: protocol.TypeView, ProtocolVersion: protocol.Version, X: x}
			if err := conn.WriteJSON(view); err != nil {
				return
			}
			if *place == "" {
				continue
			}
			y, ok := surface[x]
			if !ok || y <= 0 {
				continue
			}
			edit := protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version, X: x, Y: y - 1, Tile: *place}
			_ = conn.WriteJSON(edit)
		}
	}
}

// handle logs one server message and tracks the first solid row per column
// seen in CHUNK messages.
func handle(logger *zap.Logger, msg []byte, surface map[int]int) map[int]int {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return surface
	}
	if surface == nil {
		surface = map[int]int{}
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return surface
		}
		logger.Info("WELCOME",
			zap.String("session", w.SessionID),
			zap.String("world", w.WorldParams.Name),
			zap.Int("chunk_width", w.WorldParams.ChunkWidth),
			zap.Int("height", w.WorldParams.Height),
		)
	case protocol.TypeChunk:
		var m protocol.ChunkMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return surface
		}
		origin := m.Chunk.ChunkIndex * len(m.Chunk.Front)
		for lx, col := range m.Chunk.Front {
			for y, cell := range col {
				if cell != nil {
					surface[origin+lx] = y
					break
				}
			}
		}
		logger.Info("CHUNK", zap.Int("index", m.Chunk.ChunkIndex), zap.Uint64("version", m.Version), zap.Uint64("tick", m.Tick))
	case protocol.TypeUnload:
		var m protocol.UnloadMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return surface
		}
		logger.Info("UNLOAD", zap.Int("index", m.ChunkIndex))
	case protocol.TypeError:
		var m protocol.ErrorMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return surface
		}
		logger.Warn("ERROR", zap.String("code", m.Code), zap.String("message", m.Message))
	}
	return surface
}
