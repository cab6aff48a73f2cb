package streamer

import (
	"sort"

	"tileworld.dev/internal/sim/mathx"
)

// Window returns the inclusive chunk index range a viewer at block x needs:
// floor((x-m)/W) .. floor((x+m)/W) with m = max(margin, W), clamped to
// [0, chunkCount-1] when chunkCount > 0. ok is false when the clamped range
// is empty.
func Window(x, margin, width, chunkCount int) (lo, hi int, ok bool) {
	m := max(margin, width)
	lo = mathx.FloorDiv(x-m, width)
	hi = mathx.FloorDiv(x+m, width)
	if chunkCount > 0 {
		lo = max(lo, 0)
		hi = min(hi, chunkCount-1)
	}
	return lo, hi, lo <= hi
}

// Wanted returns the sorted union of the windows of every viewer.
func (s *Streamer) Wanted(viewerX ...int) []int {
	set := make(map[int]struct{})
	for _, x := range viewerX {
		lo, hi, ok := Window(x, s.cfg.Margin, s.cfg.ChunkWidth, s.cfg.ChunkCount)
		if !ok {
			continue
		}
		for i := lo; i <= hi; i++ {
			set[i] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
