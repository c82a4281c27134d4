// Package api exposes the acquisition control surface over HTTP: sensor
// configuration, acquisition start/stop, live statistics, and the recorded
// session history.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/meridian-sensing/framelink/internal/config"
	"github.com/meridian-sensing/framelink/internal/db"
	"github.com/meridian-sensing/framelink/internal/ingest"
	"github.com/meridian-sensing/framelink/internal/sensor"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	service *ingest.Service
	store   *db.SessionStore
	cfg     *config.Config
}

func NewServer(service *ingest.Service, store *db.SessionStore, cfg *config.Config) *Server {
	return &Server{
		service: service,
		store:   store,
		cfg:     cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sensor/configure", s.configureSensor)
	mux.HandleFunc("/api/sensor/start", s.startAcquisition)
	mux.HandleFunc("/api/sensor/stop", s.stopAcquisition)
	mux.HandleFunc("/api/sensor/reset", s.resetSensor)
	mux.HandleFunc("/api/sensor/watchdog", s.tapWatchdog)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/frames", s.listFrames)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ConfigureRequest is the JSON body for /api/sensor/configure. Omitted
// fields fall back to the configured defaults.
type ConfigureRequest struct {
	Width       *uint32  `json:"width,omitempty"`
	Height      *uint32  `json:"height,omitempty"`
	PixelFormat *string  `json:"pixel_format,omitempty"`
	BayerFormat *string  `json:"bayer_format,omitempty"`
	FrameRate   *float64 `json:"frame_rate,omitempty"`
}

func (s *Server) configureSensor(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body ConfigureRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
	}

	req := ingest.ConfigureRequest{
		Width:      uint32(s.cfg.GetWidth()),
		Height:     uint32(s.cfg.GetHeight()),
		FrameRateS: s.cfg.GetFrameRate(),
	}
	pixelName := s.cfg.GetPixelFormat()
	bayerName := s.cfg.GetBayerFormat()

	if body.Width != nil {
		req.Width = *body.Width
	}
	if body.Height != nil {
		req.Height = *body.Height
	}
	if body.FrameRate != nil {
		req.FrameRateS = *body.FrameRate
	}
	if body.PixelFormat != nil {
		pixelName = *body.PixelFormat
	}
	if body.BayerFormat != nil {
		bayerName = *body.BayerFormat
	}

	pixel, err := sensor.ParsePixelFormat(pixelName)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	bayer, err := sensor.ParseBayerFormat(bayerName)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.PixelFormat = pixel
	req.BayerFormat = bayer

	if err := s.service.Configure(req); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to configure sensor: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"width":        req.Width,
		"height":       req.Height,
		"pixel_format": pixel.String(),
		"bayer_format": bayer.String(),
		"frame_rate":   req.FrameRateS,
	})
}

func (s *Server) startAcquisition(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	session, err := s.service.Start()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start acquisition: %v", err))
		return
	}
	json.NewEncoder(w).Encode(session)
}

func (s *Server) stopAcquisition(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.service.Stop(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to stop acquisition: %v", err))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
}

func (s *Server) resetSensor(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.service.Reset(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to reset sensor: %v", err))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
}

func (s *Server) tapWatchdog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.service.TapWatchdog(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to tap watchdog: %v", err))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := s.service.Stats()
	if err != nil {
		s.writeJSONError(w, http.StatusConflict, fmt.Sprintf("Failed to retrieve stats: %v", err))
		return
	}
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessions, err := s.store.ListSessions()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []*db.Session{}
	}
	json.NewEncoder(w).Encode(sessions)
}

func (s *Server) listFrames(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'session' parameter")
		return
	}

	frames, err := s.store.SessionFrames(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve frames: %v", err))
		return
	}
	if frames == nil {
		frames = []*db.FrameRecord{}
	}
	json.NewEncoder(w).Encode(frames)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	out := map[string]interface{}{
		"listen_addr":       s.cfg.GetListenAddr(),
		"data_port":         s.cfg.GetDataPort(),
		"serial_device":     s.cfg.GetSerialDevice(),
		"database_path":     s.cfg.GetDatabasePath(),
		"width":             s.cfg.GetWidth(),
		"height":            s.cfg.GetHeight(),
		"pixel_format":      s.cfg.GetPixelFormat(),
		"bayer_format":      s.cfg.GetBayerFormat(),
		"frame_rate":        s.cfg.GetFrameRate(),
		"watchdog_interval": s.cfg.GetWatchdogInterval().String(),
		"running":           s.service.Running(),
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
