package vad

// Input is one analysis frame prepared for a [Scorer].
type Input struct {
	// Samples is mono audio at [ModelSampleRate], peak-normalised so the
	// loudest sample has magnitude 1 (all-zero frames are left as-is).
	Samples []float32

	// Gain is the peak magnitude that normalisation divided out. Backends that
	// care about absolute level multiply it back in. Zero for silent frames.
	Gain float32
}
