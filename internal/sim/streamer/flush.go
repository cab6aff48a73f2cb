package streamer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tileworld.dev/internal/sim/chunk"
)

// flush saves every changed resident chunk, SaveAllLimit at a time. Chunks
// stay resident; a failed save leaves changed set.
func (s *Streamer) flush(ctx context.Context) error {
	type item struct {
		c       *chunk.Chunk
		version uint64
	}
	var items []item
	for _, idx := range s.Resident() {
		c, ok := s.Get(idx)
		if !ok || !c.Changed() {
			continue
		}
		items = append(items, item{c: c, version: c.Version()})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SaveAllLimit)
	for _, it := range items {
		it := it
		g.Go(func() error {
			blob, err := s.codec.Encode(it.c)
			if err != nil {
				return fmt.Errorf("encode chunk %d: %w", it.c.Index(), err)
			}
			if err := s.store.Save(gctx, s.Key(it.c.Index()), blob); err != nil {
				return err
			}
			it.c.ClearChangedAt(it.version)
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		s.log.Error("save-all incomplete", zap.Error(err))
		return err
	}
	s.log.Info("saved all chunks", zap.Int("count", len(items)))
	return nil
}

// Close stops the workers. Jobs still queued are abandoned; call SaveAll
// first.
func (s *Streamer) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.jobs)
		s.wg.Wait()
	})
}
