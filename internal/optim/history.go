package optim

// DefaultHistoryCapacity is the number of tracking errors kept for retuning.
const DefaultHistoryCapacity = 50

// History is a fixed-capacity FIFO of tracking errors backed by a ring.
// Pushing onto a full history evicts the oldest value.
type History struct {
	buf   []float64
	head  int // index of the oldest value
	count int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]float64, capacity)}
}

func (h *History) Push(v float64) {
	if h.count < len(h.buf) {
		h.buf[(h.head+h.count)%len(h.buf)] = v
		h.count++
		return
	}
	h.buf[h.head] = v
	h.head = (h.head + 1) % len(h.buf)
}

func (h *History) Len() int { return h.count }
func (h *History) Cap() int { return len(h.buf) }

// Values returns a copy ordered oldest to newest.
func (h *History) Values() []float64 {
	out := make([]float64, h.count)
	for i := range out {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// AsTemperatureSeries rebuilds the implied temperatures setpoint - e.
func (h *History) AsTemperatureSeries(setpoint float64) []float64 {
	out := h.Values()
	for i, e := range out {
		out[i] = setpoint - e
	}
	return out
}

func (h *History) Reset() {
	h.head = 0
	h.count = 0
}
