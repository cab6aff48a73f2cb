package world

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"tileworld.dev/internal/sim/catalogs"
)

// Edit is a tile change queued from outside the simulation goroutine.
type Edit struct {
	X, Y  int
	Layer string
	ID    uint16
	Cause string
}

type viewReq struct {
	ID    string
	X     int
	Leave bool
}

// Run drives the world at the configured tick rate until ctx is done or
// Stop is called. It does not save; call Shutdown afterwards. Once Run has
// returned the world counts as stopped: viewer updates are dropped and
// SubmitEdit fails.
func (w *World) Run(ctx context.Context) error {
	defer w.Stop()

	interval := time.Second / time.Duration(w.cfg.Tuning.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingEdits []Edit

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.views:
			w.handleView(req)
		case e := <-w.edits:
			pendingEdits = append(pendingEdits, e)
		case <-ticker.C:
			w.Tick(w.viewerColumns()...)
			w.applyEdits(pendingEdits)
			pendingEdits = pendingEdits[:0]
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// SetViewer records the column a viewer is looking at.
func (w *World) SetViewer(id string, x int) {
	select {
	case w.views <- viewReq{ID: id, X: x}:
	case <-w.stop:
	}
}

func (w *World) RemoveViewer(id string) {
	select {
	case w.views <- viewReq{ID: id, Leave: true}:
	case <-w.stop:
	}
}

// SubmitEdit queues e for the next tick. It fails when the queue is full.
func (w *World) SubmitEdit(e Edit) error {
	select {
	case <-w.stop:
		return errors.New("world: stopped")
	default:
	}
	select {
	case w.edits <- e:
		return nil
	case <-w.stop:
		return errors.New("world: stopped")
	default:
		return errors.New("world: edit queue full")
	}
}

func (w *World) handleView(req viewReq) {
	if req.Leave {
		delete(w.viewers, req.ID)
		return
	}
	w.viewers[req.ID] = req.X
}

// viewerColumns lists the columns residency is reconciled against: every
// viewer in id order, then the spawn column, which stays loaded with or
// without viewers.
func (w *World) viewerColumns() []int {
	ids := make([]string, 0, len(w.viewers))
	for id := range w.viewers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]int, 0, len(ids)+1)
	for _, id := range ids {
		out = append(out, w.viewers[id])
	}
	return append(out, w.cfg.Tuning.World.SpawnX)
}

func (w *World) applyEdits(edits []Edit) {
	for _, e := range edits {
		var err error
		if e.Layer == catalogs.LayerBack {
			err = w.SetBackWall(e.X, e.Y, e.ID, e.Cause)
		} else {
			err = w.SetTile(e.X, e.Y, e.ID, e.Cause)
		}
		if err != nil {
			w.log.Debug("edit rejected",
				zap.Int("x", e.X), zap.Int("y", e.Y), zap.Uint16("id", e.ID), zap.Error(err))
		}
	}
}
