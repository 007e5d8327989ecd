package slide

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestRenderFitnessChart(t *testing.T) {
	img := RenderFitnessChart(scenarioTable(), 400, 200)
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 200 {
		t.Fatalf("size = %v, want 400x200", img.Bounds())
	}

	found := map[string]bool{}
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			switch img.RGBAAt(x, y) {
			case chartThreshold:
				found["threshold"] = true
			case chartSelected:
				found["selected"] = true
			case chartLine:
				found["line"] = true
			}
		}
	}
	for _, key := range []string{"threshold", "selected", "line"} {
		if !found[key] {
			t.Errorf("no %s pixels drawn", key)
		}
	}
}

func TestRenderFitnessChart_Defaults(t *testing.T) {
	img := RenderFitnessChart(FitnessTable{}, 0, 0)
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 360 {
		t.Errorf("default size = %v, want 640x360", img.Bounds())
	}

	// a chart too small for the plot area is just the background
	small := RenderFitnessChart(scenarioTable(), 20, 20)
	if small.RGBAAt(10, 10) != chartBackground {
		t.Error("tiny chart should only hold the background")
	}
}

func TestSaveFitnessChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "POF.png")
	if err := SaveFitnessChart(path, scenarioTable()); err != nil {
		t.Fatalf("SaveFitnessChart: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not a PNG: %v", err)
	}
	if cfg.Width != 640 {
		t.Errorf("width = %d, want 640", cfg.Width)
	}
}
