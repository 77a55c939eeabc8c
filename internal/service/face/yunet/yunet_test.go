package yunet

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/zhouzirui/facechat/backend/internal/service/face"
)

func findModelPath(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("FACE_MODEL_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range []string{
		"models/face_detection_yunet.onnx",
		"../../../../models/face_detection_yunet.onnx",
	} {
		if abs, err := filepath.Abs(p); err == nil {
			if _, err := os.Stat(abs); err == nil {
				return abs
			}
		}
	}
	t.Skip("YuNet model not found, skipping test")
	return ""
}

func grayJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestScaledSize(t *testing.T) {
	cases := []struct {
		w, h, longest int
		wantW, wantH  int
	}{
		{640, 480, 224, 224, 168},
		{480, 640, 224, 168, 224},
		{224, 224, 224, 224, 224},
		{100, 50, 0, 100, 50},
		{1000, 1, 224, 224, 1},
	}
	for _, tc := range cases {
		w, h := scaledSize(tc.w, tc.h, tc.longest)
		if w != tc.wantW || h != tc.wantH {
			t.Errorf("scaledSize(%d,%d,%d) = %d,%d; want %d,%d", tc.w, tc.h, tc.longest, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestNewMissingModel(t *testing.T) {
	if _, err := New("/nonexistent/face.onnx", face.DefaultDetectOptions()); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestDetectBlankFrameFindsNothing(t *testing.T) {
	d, err := New(findModelPath(t), face.DefaultDetectOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	dets, err := d.Detect(grayJPEG(t, 640, 480), face.DefaultDetectOptions())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if face.AnyAbove(dets, 0.5) {
		t.Fatalf("expected no face in a blank frame, got %+v", dets)
	}
}

func TestDetectRejectsInvalidImage(t *testing.T) {
	d, err := New(findModelPath(t), face.DefaultDetectOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	if _, err := d.Detect([]byte("not a jpeg"), face.DefaultDetectOptions()); err == nil {
		t.Fatal("expected error for invalid image")
	}

	d.Close()
	if _, err := d.Detect(grayJPEG(t, 32, 32), face.DefaultDetectOptions()); err == nil {
		t.Fatal("expected error after Close")
	}
}
