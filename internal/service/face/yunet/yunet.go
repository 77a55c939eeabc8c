// Package yunet implements face.Detector with OpenCV's YuNet model.
package yunet

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/zhouzirui/facechat/backend/internal/service/face"
)

// Detector wraps gocv's FaceDetectorYN.
type Detector struct {
	mu        sync.Mutex // FaceDetectorYN is not safe for concurrent use
	detector  gocv.FaceDetectorYN
	threshold float64
	closed    bool
}

// New loads the ONNX model at modelPath.
func New(modelPath string, opts face.DetectOptions) (*Detector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", modelPath, err)
	}

	size := image.Pt(opts.InputSize, opts.InputSize)
	fd := gocv.NewFaceDetectorYNWithParams(
		modelPath,
		"",
		size,
		float32(opts.ScoreThreshold),
		0.3,
		5000,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &Detector{detector: fd, threshold: opts.ScoreThreshold}, nil
}

// Loader returns a face.Loader for the model at modelPath.
func Loader(modelPath string, opts face.DetectOptions) face.Loader {
	return func(ctx context.Context) (face.Detector, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return New(modelPath, opts)
	}
}

// Detect decodes a JPEG/PNG frame, scales it so the longest side equals
// opts.InputSize, and returns detections in normalized coordinates.
func (d *Detector) Detect(data []byte, opts face.DetectOptions) ([]face.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("detector closed")
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	input := img
	w, h := scaledSize(img.Cols(), img.Rows(), opts.InputSize)
	if w != img.Cols() || h != img.Rows() {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(img, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
		input = resized
	}

	if opts.ScoreThreshold != d.threshold {
		d.detector.SetScoreThreshold(float32(opts.ScoreThreshold))
		d.threshold = opts.ScoreThreshold
	}
	d.detector.SetInputSize(image.Pt(input.Cols(), input.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(input, &faces)

	fw, fh := float64(input.Cols()), float64(input.Rows())
	var detections []face.Detection
	for r := 0; r < faces.Rows(); r++ {
		// Columns 0-3 are the box in pixels, 4-13 landmarks, 14 the score.
		detections = append(detections, face.Detection{
			X:          float64(faces.GetFloatAt(r, 0)) / fw,
			Y:          float64(faces.GetFloatAt(r, 1)) / fh,
			W:          float64(faces.GetFloatAt(r, 2)) / fw,
			H:          float64(faces.GetFloatAt(r, 3)) / fh,
			Confidence: float64(faces.GetFloatAt(r, 14)),
		})
	}
	return detections, nil
}

// Close releases the native detector. Safe to call more than once.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.detector.Close()
	return nil
}

// scaledSize keeps the aspect ratio and makes the longest side equal to
// longest. A non-positive longest leaves the size unchanged.
func scaledSize(w, h, longest int) (int, int) {
	if longest <= 0 || w <= 0 || h <= 0 {
		return w, h
	}
	if w >= h {
		return longest, max(1, h*longest/w)
	}
	return max(1, w*longest/h), longest
}
