package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tileworld.dev/internal/protocol"
	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/world"
)

type Options struct {
	// PollInterval is how often a session looks for new chunk versions.
	PollInterval time.Duration
	IdleTimeout  time.Duration
	// EditsPerSec throttles EDIT messages per session; 0 disables edits.
	EditsPerSec float64
}

func DefaultOptions() Options {
	return Options{PollInterval: 100 * time.Millisecond, IdleTimeout: 60 * time.Second, EditsPerSec: 20}
}

type Server struct {
	world *world.World
	log   *zap.Logger
	opts  Options

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *zap.Logger, opts Options) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultOptions().IdleTimeout
	}
	s := &Server{
		world: w,
		log:   logger.Named("ws"),
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

// session is one connected viewer.
type session struct {
	id    string
	out   chan []byte
	x     atomic.Int64
	ready atomic.Bool
	edits *rate.Limiter
	log   *zap.Logger
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
		sess.log.Info("viewer connected", zap.String("remote", r.RemoteAddr))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()
		go s.stream(ctx, sess)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handleMessage(sess, msg)
		}

		// Cleanup.
		s.world.RemoveViewer(sess.id)
		sess.log.Info("viewer disconnected")
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello || protocol.Validate(protocol.TypeHello, msg) != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 16
	}
	if maxQ > 128 {
		maxQ = 128
	}
	sess := &session{
		id:  uuid.NewString(),
		out: make(chan []byte, maxQ),
	}
	sess.log = s.log.With(zap.String("session", sess.id), zap.String("viewer", hello.ViewerName))
	if s.opts.EditsPerSec > 0 {
		sess.edits = rate.NewLimiter(rate.Limit(s.opts.EditsPerSec), max(1, int(s.opts.EditsPerSec)))
	}

	reg := s.world.Registry()
	t := s.world.Tuning()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		WorldParams: protocol.WorldParams{
			Name:        t.World.Name,
			Dimension:   t.World.Dimension,
			TickRateHz:  t.TickRateHz,
			ChunkWidth:  t.World.ChunkWidth,
			Height:      t.World.Height,
			Width:       t.World.Width,
			ChunkCount:  t.ChunkCount(),
			TicksPerDay: t.Clock.TicksPerDay,
			SpawnX:      t.World.SpawnX,
		},
		Tiles: protocol.DigestRef{Digest: reg.Digest, Count: len(reg.Defs())},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	if hello.Capabilities.Catalog {
		cat := protocol.CatalogMsg{
			Type:            protocol.TypeCatalog,
			ProtocolVersion: protocol.Version,
			Name:            "tiles",
			Digest:          reg.Digest,
			Data:            reg.Defs(),
		}
		if err := writeJSON(conn, cat); err != nil {
			return nil
		}
	}
	return sess
}

func (s *Server) handleMessage(sess *session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.reply(sess, protocol.NewError(protocol.ErrProtoBadRequest, "malformed json"))
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.reply(sess, protocol.NewError(protocol.ErrProtoVersion, "protocol_version "+base.ProtocolVersion))
		return
	}
	if err := protocol.Validate(base.Type, msg); err != nil {
		s.reply(sess, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
		return
	}

	switch base.Type {
	case protocol.TypeView:
		var v protocol.ViewMsg
		if err := json.Unmarshal(msg, &v); err != nil {
			return
		}
		sess.x.Store(int64(v.X))
		sess.ready.Store(true)
		s.world.SetViewer(sess.id, v.X)
	case protocol.TypeEdit:
		var e protocol.EditMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return
		}
		s.handleEdit(sess, e)
	default:
		s.reply(sess, protocol.NewError(protocol.ErrProtoBadRequest, "unexpected "+base.Type))
	}
}

func (s *Server) handleEdit(sess *session, e protocol.EditMsg) {
	if sess.edits == nil || !sess.edits.Allow() {
		s.reply(sess, protocol.NewError(protocol.ErrRateLimit, "edit rate exceeded"))
		return
	}
	id, ok := s.world.Registry().ID(e.Tile)
	if !ok {
		s.reply(sess, protocol.NewError(protocol.ErrBadRequest, "unknown tile "+e.Tile))
		return
	}
	layer := e.Layer
	if layer == "" {
		layer = catalogs.LayerFront
	}
	err := s.world.SubmitEdit(world.Edit{X: e.X, Y: e.Y, Layer: layer, ID: id, Cause: "ws:" + sess.id})
	if err != nil {
		s.reply(sess, protocol.NewError(protocol.ErrRateLimit, err.Error()))
	}
}

func (s *Server) reply(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	default:
		sess.log.Debug("dropping reply; queue full")
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
