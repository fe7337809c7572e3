// Package api exposes the product store, settings and bot triggers over a
// small REST surface consumed by the dashboard.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"toribot/bot"
	"toribot/metrics"
	"toribot/settings"
	"toribot/storage"
	"toribot/utils"
)

// Server holds the handler dependencies.
type Server struct {
	bot      *bot.Bot
	store    *storage.ProductStore
	settings *settings.Store
	metrics  *metrics.Metrics
	logger   *utils.Logger

	variantName string
	imagesDir   string
	webDir      string
	sinks       []storage.ProductSink
	startedAt   time.Time
}

// New creates a Server. sinks receive the store contents on /api/save; a nil
// metrics disables the /metrics route.
func New(b *bot.Bot, store *storage.ProductStore, settingsStore *settings.Store,
	m *metrics.Metrics, logger *utils.Logger, variantName, imagesDir, webDir string,
	sinks ...storage.ProductSink) *Server {
	return &Server{
		bot:         b,
		store:       store,
		settings:    settingsStore,
		metrics:     m,
		logger:      logger,
		variantName: variantName,
		imagesDir:   imagesDir,
		webDir:      webDir,
		sinks:       sinks,
		startedAt:   time.Now(),
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/products", s.handleProducts)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/fetch", s.handleFetch)
	mux.HandleFunc("/api/valuate", s.handleValuate)
	mux.HandleFunc("/api/refresh-all", s.handleRefreshAll)
	mux.HandleFunc("/api/save", s.handleSave)
	mux.HandleFunc("/api/fetch-images", s.handleFetchImages)
	mux.HandleFunc("/api/health", s.handleHealth)

	mux.Handle("/images/", http.StripPrefix("/images/", http.FileServer(http.Dir(s.imagesDir))))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	if s.webDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.webDir)))
	}

	return mux
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"products": s.store.List(),
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"settings": s.settings.Masked(),
		})

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil || len(body) == 0 {
			writeError(w, http.StatusBadRequest, "no settings provided")
			return
		}

		if _, err := s.settings.Update(body); err != nil {
			var ve *settings.ValidationError
			if errors.As(err, &ve) {
				writeError(w, http.StatusBadRequest, ve.Error())
				return
			}
			s.logger.Error("[api] settings update: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Settings updated"})

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		NumProducts int `json:"num_products"`
	}
	if r.Body != nil {
		// Body is optional; a bare POST runs one poll cycle.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	var added int
	var err error
	if req.NumProducts > 0 {
		added, err = s.bot.FetchPages(r.Context(), req.NumProducts)
	} else {
		added, err = s.bot.PollOnce(r.Context())
	}

	if errors.Is(err, bot.ErrPassInProgress) {
		writeError(w, http.StatusConflict, "a fetch is already in progress")
		return
	}
	if err != nil {
		s.logger.Error("[api] fetch: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "added": added})
}

func (s *Server) handleValuate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	err := s.bot.TriggerValuation()
	switch {
	case errors.Is(err, bot.ErrPassInProgress):
		writeError(w, http.StatusConflict, "a valuation pass is already running")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Valuation started"})
	}
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	refreshed, err := s.bot.RefreshAll(r.Context())
	if errors.Is(err, bot.ErrPassInProgress) {
		writeError(w, http.StatusConflict, "a fetch is already in progress")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "refreshed": refreshed})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	products := s.store.List()
	exported := 0
	for _, sink := range s.sinks {
		if err := sink.Export(products); err != nil {
			s.logger.Error("[api] export: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		exported++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"products": len(products),
		"sinks":    exported,
	})
}

func (s *Server) handleFetchImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	fetched, err := s.bot.FetchImages(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "fetched": fetched})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	snap := s.settings.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"status":           "ok",
		"variant":          s.variantName,
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
		"ai_enabled":       snap.AIEnabled(),
		"poll_passes":      s.bot.PollPasses(),
		"valuation_passes": s.bot.ValuationPasses(),
		"stats":            s.store.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
