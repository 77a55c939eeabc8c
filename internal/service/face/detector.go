// Package face reports whether a human face is visible in the session's
// camera feed.
package face

import "context"

// Detection is one face found in a frame.
type Detection struct {
	X, Y       float64 // Top-left corner (0-1 normalized)
	W, H       float64 // Width and height (0-1 normalized)
	Confidence float64 // Detection score (0-1)
}

// DetectOptions is passed with every detection call.
type DetectOptions struct {
	InputSize      int     // Frames are scaled so the longest side equals this
	ScoreThreshold float64 // Minimum score for a detection to count
}

// DefaultDetectOptions matches the lightweight detector profile.
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{InputSize: 224, ScoreThreshold: 0.5}
}

// Detector finds faces in an encoded image.
type Detector interface {
	Detect(image []byte, opts DetectOptions) ([]Detection, error)
	Close() error
}

// Loader loads a detector model. It may be slow; the monitor calls it once
// in the background.
type Loader func(ctx context.Context) (Detector, error)

// AnyAbove reports whether at least one detection scores at or above threshold.
func AnyAbove(dets []Detection, threshold float64) bool {
	for _, d := range dets {
		if d.Confidence >= threshold {
			return true
		}
	}
	return false
}
