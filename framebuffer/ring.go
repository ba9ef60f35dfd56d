package framebuffer

// ring is a growable FIFO of frames backed by a circular slice.
//
// The buffer enforces its own capacity; ring only guarantees O(1) push and
// pop at both ends. Storage grows by doubling and is compacted when a window
// shrink leaves it mostly empty.
type ring struct {
	buf  []Frame
	head int
	n    int
}

const minRingSize = 16

func (r *ring) len() int {
	return r.n
}

// at returns the i-th oldest frame. i must be in [0, len).
func (r *ring) at(i int) Frame {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring) back() Frame {
	return r.at(r.n - 1)
}

func (r *ring) pushBack(f Frame) {
	if r.n == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.n)%len(r.buf)] = f
	r.n++
}

// popFront removes the oldest frame. The vacated slot is zeroed so the
// payload can be collected.
func (r *ring) popFront() Frame {
	f := r.buf[r.head]
	r.buf[r.head] = Frame{}
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return f
}

// copyTo appends frames [from, len) oldest first to dst.
func (r *ring) copyTo(dst []Frame, from int) []Frame {
	for i := from; i < r.n; i++ {
		dst = append(dst, r.at(i))
	}
	return dst
}

func (r *ring) clear() {
	r.buf = nil
	r.head = 0
	r.n = 0
}

func (r *ring) grow() {
	size := len(r.buf) * 2
	if size < minRingSize {
		size = minRingSize
	}
	r.resize(size)
}

// compact releases storage after a large shrink. Keeps at least want slots.
func (r *ring) compact(want int) {
	if want < minRingSize {
		want = minRingSize
	}
	if len(r.buf) <= 2*want || r.n > want {
		return
	}
	r.resize(want)
}

func (r *ring) resize(size int) {
	buf := make([]Frame, size)
	for i := 0; i < r.n; i++ {
		buf[i] = r.at(i)
	}
	r.buf = buf
	r.head = 0
}
