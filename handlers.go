package main

import (
	"encoding/json"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/kwv/salad/slide"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(state *slide.RunState) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		_, hasTable := state.FitnessTable()
		status := struct {
			Status      string    `json:"status"`
			Timestamp   time.Time `json:"timestamp"`
			Stage       string    `json:"stage"`
			HasFitness  bool      `json:"hasFitness"`
			HasTraining bool      `json:"hasTraining"`
			HasResult   bool      `json:"hasResult"`
		}{
			Status:      "ok",
			Timestamp:   time.Now(),
			Stage:       state.Status().Stage,
			HasFitness:  hasTable,
			HasTraining: len(state.Training()) > 0,
			HasResult:   state.Detected() != nil,
		}
		writeJSON(w, status)
	})

	// Run progress
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, state.Status())
	})

	// Fitness table of the scale search, partial while the search runs
	mux.HandleFunc("/pof", func(w http.ResponseWriter, r *http.Request) {
		table, ok := state.FitnessTable()
		if !ok {
			http.Error(w, "No fitness table available", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, table)
	})

	mux.HandleFunc("/pof.png", func(w http.ResponseWriter, r *http.Request) {
		table, ok := state.FitnessTable()
		if !ok {
			http.Error(w, "No fitness table available", http.StatusServiceUnavailable)
			return
		}
		img := slide.RenderFitnessChart(table, 800, 450)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding fitness chart PNG: %v", err)
		}
	})

	mux.HandleFunc("/training.geojson", func(w http.ResponseWriter, r *http.Request) {
		records := state.Training()
		if len(records) == 0 {
			http.Error(w, "No training table available", http.StatusServiceUnavailable)
			return
		}
		writeGeoJSON(w, slide.TrainingCollection(records))
	})

	mux.HandleFunc("/landslides.geojson", func(w http.ResponseWriter, r *http.Request) {
		features := state.Detected()
		if features == nil {
			http.Error(w, "No detection result available", http.StatusServiceUnavailable)
			return
		}
		writeGeoJSON(w, slide.FeatureCollection(features))
	})

	mux.HandleFunc("/landslides.svg", func(w http.ResponseWriter, r *http.Request) {
		features := state.Detected()
		if features == nil {
			http.Error(w, "No detection result available", http.StatusServiceUnavailable)
			return
		}
		renderer := slide.NewMapRenderer(slide.MapLayer{
			Features: features,
			Fill:     &slide.PositiveColor,
			Stroke:   slide.OutlineColor,
		})
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error rendering landslide SVG: %v", err)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func writeGeoJSON(w http.ResponseWriter, fc json.Marshaler) {
	data, err := fc.MarshalJSON()
	if err != nil {
		http.Error(w, "Error encoding GeoJSON", http.StatusInternalServerError)
		log.Printf("Error encoding GeoJSON: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(data); err != nil {
		log.Printf("Error writing GeoJSON: %v", err)
	}
}
