package audio

// Framer regroups variable-size capture chunks into fixed-size analysis
// frames. Leftover samples are carried into the next call.
// Not safe for concurrent use; create one per capture stream.
type Framer struct {
	size    int
	pending []float32
}

// NewFramer returns a Framer emitting frames of size samples.
func NewFramer(size int) *Framer {
	return &Framer{size: max(size, 1)}
}

// Push adds samples and returns every complete frame now available.
func (f *Framer) Push(samples []float32) [][]float32 {
	f.pending = append(f.pending, samples...)
	var frames [][]float32
	for len(f.pending) >= f.size {
		frame := make([]float32, f.size)
		copy(frame, f.pending[:f.size])
		frames = append(frames, frame)
		f.pending = f.pending[f.size:]
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return frames
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int { return len(f.pending) }

// Reset drops any buffered samples.
func (f *Framer) Reset() { f.pending = nil }
