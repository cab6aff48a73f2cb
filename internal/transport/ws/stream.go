package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"tileworld.dev/internal/protocol"
	"tileworld.dev/internal/sim/chunk"
)

// sentChunk is what a session last received for one index. Versions restart
// on every load, so the chunk itself is kept to tell a reload apart from an
// untouched chunk that happens to carry the same version.
type sentChunk struct {
	c *chunk.Chunk
	v uint64
}

type sentSet map[int]sentChunk

// stale reports whether c must be (re)sent for idx.
func (s sentSet) stale(idx int, c *chunk.Chunk) bool {
	prev, ok := s[idx]
	return !ok || prev.c != c || prev.v != c.Version()
}

// stream pushes every chunk in the session's window that changed or was
// reloaded since it was last sent, and UNLOAD for chunks that left the
// window. Messages that do not fit the queue are retried on the next poll.
func (s *Server) stream(ctx context.Context, sess *session) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	sent := sentSet{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !sess.ready.Load() {
			continue
		}

		wanted := s.world.Streamer().Wanted(int(sess.x.Load()))
		inWindow := make(map[int]struct{}, len(wanted))
		for _, idx := range wanted {
			inWindow[idx] = struct{}{}
		}
		for idx := range sent {
			if _, ok := inWindow[idx]; ok {
				continue
			}
			if !s.push(sess, protocol.UnloadMsg{Type: protocol.TypeUnload, ProtocolVersion: protocol.Version, ChunkIndex: idx}) {
				break
			}
			delete(sent, idx)
		}

		for _, idx := range wanted {
			c, ok := s.world.Streamer().Get(idx)
			if !ok {
				continue
			}
			if !sent.stale(idx, c) {
				continue
			}
			v := c.Version()
			msg := protocol.ChunkMsg{
				Type:            protocol.TypeChunk,
				ProtocolVersion: protocol.Version,
				Tick:            s.world.CurrentTick(),
				Version:         v,
				Chunk:           s.world.Streamer().Codec().Wire(c),
			}
			if !s.push(sess, msg) {
				break
			}
			sent[idx] = sentChunk{c: c, v: v}
		}
	}
}

func (s *Server) push(sess *session, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		sess.log.Error("encode message", zap.Error(err))
		return false
	}
	select {
	case sess.out <- b:
		return true
	default:
		return false
	}
}
