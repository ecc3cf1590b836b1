package main

import (
	"encoding/json"
	"image/color"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kwv/parcelswap/swap"
)

// newHTTPServer creates an HTTP server with all endpoints. progress and ds may
// be nil until a run has been set up.
func newHTTPServer(progress *swap.ProgressTracker, ds *swap.Dataset, config *swap.Config, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			HasDataset bool      `json:"hasDataset"`
			Running    bool      `json:"running"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			HasDataset: ds != nil,
		}
		if progress != nil {
			status.Running = progress.Progress().Running
		}
		writeJSON(w, status)
	})

	// Live progress of the current run
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if progress == nil {
			http.Error(w, "No run started", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, progress.Progress())
	})

	// Final result with the per-owner summary
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		if progress == nil {
			http.Error(w, "No run started", http.StatusServiceUnavailable)
			return
		}
		res := progress.Result()
		if res == nil {
			http.Error(w, "Run in progress", http.StatusAccepted)
			return
		}
		writeJSON(w, res)
	})

	// Current ownership as GeoJSON
	mux.HandleFunc("/ownership.geojson", func(w http.ResponseWriter, r *http.Request) {
		if ds == nil {
			http.Error(w, "No dataset loaded", http.StatusServiceUnavailable)
			return
		}
		tag := swap.NewTurnTag(0, swap.DefaultIDField, swap.DefaultOwnerField)
		if config != nil {
			tag = swap.NewTurnTag(0, config.Input.IDField, config.Input.OwnerField)
		}
		data, err := ds.FeatureCollection(tag).MarshalJSON()
		if err != nil {
			log.Printf("Error encoding ownership GeoJSON: %v", err)
			http.Error(w, "Encoding failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing ownership GeoJSON: %v", err)
		}
	})

	// Ownership map, with seeds once the run has finished
	mux.HandleFunc("/map.png", func(w http.ResponseWriter, r *http.Request) {
		if ds == nil || ds.Len() == 0 {
			http.Error(w, "No dataset loaded", http.StatusServiceUnavailable)
			return
		}
		var seeds map[swap.OwnerID][]swap.UnitID
		if progress != nil {
			if res := progress.Result(); res != nil {
				seeds = res.Seeds
			}
		}
		renderer := swap.NewOwnershipRenderer(ds, seeds)
		applyConfigColors(renderer, config)

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.WritePNG(w); err != nil {
			log.Printf("Error encoding ownership PNG: %v", err)
		}
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// applyConfigColors applies owner colors from config to a renderer. Invalid
// entries are skipped.
func applyConfigColors(renderer *swap.OwnershipRenderer, config *swap.Config) {
	if config == nil {
		return
	}
	for owner, hex := range config.Output.Colors {
		c, err := swap.ParseHexColor(hex)
		if err != nil {
			log.Printf("Warning: owner %s: %v", owner, err)
			continue
		}
		if renderer.Colors == nil {
			renderer.Colors = make(map[swap.OwnerID]color.RGBA)
		}
		renderer.Colors[owner] = c
	}
}
