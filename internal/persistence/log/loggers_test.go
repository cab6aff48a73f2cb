package log

import (
	"encoding/json"
	"testing"
	"time"

	"tileworld.dev/internal/sim/world"
)

func TestAuditLogger_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	base := time.Date(2024, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return base }

	entries := []world.AuditEntry{
		{Tick: 1, Layer: "front", X: 5, Y: 9, From: 0, To: 2, Cause: "player:alice"},
		{Tick: 2, Layer: "back", X: -1, Y: 3, From: 1, To: 64, Cause: "script"},
	}
	if err := l.WriteAudit(entries[0]); err != nil {
		t.Fatal(err)
	}
	base = base.Add(2 * time.Minute)
	if err := l.WriteAudit(entries[1]); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	files, err := l.w.Files()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v want 2 (one per hour)", files)
	}

	var got []world.AuditEntry
	for _, f := range files {
		err := ReadJSONL(f, func(line []byte) error {
			var e world.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			got = append(got, e)
			return nil
		})
		if err != nil {
			t.Fatalf("ReadJSONL(%s): %v", f, err)
		}
	}
	if len(got) != 2 || got[0] != entries[0] || got[1] != entries[1] {
		t.Fatalf("entries=%+v", got)
	}
}
