//go:build integration
// +build integration

package nutrivision

import (
	"context"
	"os"
	"strings"
	"testing"
)

// TestModelDetect runs the real detector on an image, the backends default
// to cpu and can be set with NUTRIVISION_BACKENDS=cuda,cpu
func TestModelDetect(t *testing.T) {

	modelFile := os.Getenv("NUTRIVISION_MODEL")

	if modelFile == "" {
		t.Fatalf("No Model file provided in NUTRIVISION_MODEL")
	}

	imgFile := os.Getenv("NUTRIVISION_IMAGE")

	if imgFile == "" {
		t.Fatalf("No Image file provided in NUTRIVISION_IMAGE")
	}

	cfg := DefaultConfig()
	cfg.ModelFile = modelFile
	cfg.LabelsFile = os.Getenv("NUTRIVISION_LABELS")
	cfg.SharedLibrary = os.Getenv("ONNXRUNTIME_LIB")
	cfg.Backends = []string{BackendCPU}

	if b := os.Getenv("NUTRIVISION_BACKENDS"); b != "" {
		cfg.Backends = strings.Split(b, ",")
	}

	ctrl, err := NewController(cfg, Options{})

	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	defer func() {
		if err := ctrl.Dispose(); err != nil {
			t.Errorf("Dispose: %v", err)
		}
	}()

	dets, err := ctrl.DetectFile(context.Background(), imgFile, Thresholds{})

	if err != nil {
		t.Fatalf("DetectFile failed: %v", err)
	}

	if len(dets) == 0 {
		t.Fatalf("expected at least one detection in %s", imgFile)
	}

	for i, d := range dets {

		if d.Confidence < cfg.ConfidenceThreshold || d.Confidence > 1 {
			t.Errorf("entry %d: confidence %v out of [%v,1]", i, d.Confidence, cfg.ConfidenceThreshold)
		}

		if i > 0 && d.Confidence > dets[i-1].Confidence {
			t.Errorf("confidences not descending at index %d", i)
		}

		if d.Box.X2 <= d.Box.X1 || d.Box.Y2 <= d.Box.Y1 {
			t.Errorf("entry %d: degenerate box %+v", i, d.Box)
		}

		if d.ClassID < 0 || d.ClassID >= cfg.ClassNum {
			t.Errorf("entry %d: class %d out of range [0,%d)", i, d.ClassID, cfg.ClassNum)
		}
	}

	// identical input gives identical output
	again, err := ctrl.DetectFile(context.Background(), imgFile, Thresholds{})

	if err != nil {
		t.Fatalf("second DetectFile failed: %v", err)
	}

	if len(again) != len(dets) || again[0].Box != dets[0].Box {
		t.Errorf("expected deterministic detections")
	}
}
