package changedetect

// Change detection defaults
const (
	// Sample every Nth row and column when hashing
	DefaultStride = 4

	// Grid cell edge for dirty-region queries (pixels)
	DefaultGridSize = 50

	// Hamming distance under which perceptual hashes count as the same frame
	DefaultMaxPerceptualDistance = 5
)
