package accounting

// MarkBase and MarkMax bound the 256-entry per-session traffic-mark
// pool, disjoint from the Data Plane Programmer's link fwmark pool
// ([100,199]).
const (
	MarkBase = 0x100
	MarkMax  = 0x1FF
	markSpan = MarkMax - MarkBase + 1
)

// djb2 is Dan Bernstein's string hash, used to turn a session ID into a
// starting point in the mark pool.
func djb2(s string) uint32 {
	var hash uint32 = 5381
	for i := 0; i < len(s); i++ {
		hash = ((hash << 5) + hash) + uint32(s[i])
	}
	return hash
}

// markAllocator assigns each session a mark in [MarkBase, MarkMax],
// derived by hashing the session ID and falling back to a monotonic
// cursor (wrapping, skipping in-use marks) on collision.
type markAllocator struct {
	inUse  [markSpan]bool
	cursor int
}

func newMarkAllocator() *markAllocator {
	return &markAllocator{}
}

// allocate returns a mark for sessionIDStr, or ok=false if the pool is
// full.
func (a *markAllocator) allocate(sessionIDStr string) (uint16, bool) {
	start := int(djb2(sessionIDStr) % markSpan)
	if !a.inUse[start] {
		a.inUse[start] = true
		return uint16(MarkBase + start), true
	}

	for i := 0; i < markSpan; i++ {
		idx := (a.cursor + i) % markSpan
		if !a.inUse[idx] {
			a.inUse[idx] = true
			a.cursor = (idx + 1) % markSpan
			return uint16(MarkBase + idx), true
		}
	}
	return 0, false
}

func (a *markAllocator) release(mark uint16) {
	idx := int(mark) - MarkBase
	if idx < 0 || idx >= markSpan {
		return
	}
	a.inUse[idx] = false
}
