package world

import "go.uber.org/zap"

func (w *World) auditTile(layer string, x, y int, from, to uint16, cause string) {
	if w.audit == nil {
		return
	}
	entry := AuditEntry{
		Tick:  w.tick.Load(),
		Layer: layer,
		X:     x,
		Y:     y,
		From:  from,
		To:    to,
		Cause: cause,
	}
	if err := w.audit.WriteAudit(entry); err != nil {
		w.log.Warn("audit write failed", zap.Error(err))
	}
}
