package gps

import "github.com/samiam2013/gnssfix/common/nmea"

// HistoryCapacity is how many undelivered fixes a receiver keeps. When a new
// fix arrives with the history full, the oldest one is dropped.
const HistoryCapacity = 10

// history is a fixed size FIFO of fixes. It is not synchronized; the engine
// guards it with its data lock.
type history struct {
	buf   []nmea.PositionFix
	head  int // index of the oldest entry
	count int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &history{buf: make([]nmea.PositionFix, capacity)}
}

// push appends fix and reports whether the oldest entry had to be evicted.
func (h *history) push(fix nmea.PositionFix) (evicted bool) {
	if h.count == len(h.buf) {
		h.buf[h.head] = fix
		h.head = (h.head + 1) % len(h.buf)
		return true
	}
	h.buf[(h.head+h.count)%len(h.buf)] = fix
	h.count++
	return false
}

func (h *history) popOldest() (nmea.PositionFix, bool) {
	if h.count == 0 {
		return nmea.PositionFix{}, false
	}
	fix := h.buf[h.head]
	h.buf[h.head] = nmea.PositionFix{}
	h.head = (h.head + 1) % len(h.buf)
	h.count--
	return fix, true
}

func (h *history) isEmpty() bool { return h.count == 0 }

func (h *history) len() int { return h.count }

func (h *history) clear() {
	for i := range h.buf {
		h.buf[i] = nmea.PositionFix{}
	}
	h.head, h.count = 0, 0
}
