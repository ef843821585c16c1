package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tiff-squeeze-go/internal/compressor"
	"tiff-squeeze-go/internal/config"
	"tiff-squeeze-go/internal/statistics"
	"tiff-squeeze-go/internal/workspace"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const serviceVersion = "1.0.0"

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	comp       compressor.Compressor
	work       *workspace.Workspace
	stats      *statistics.Statistics
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	activeRequests int64
	startedAt      time.Time
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	comp compressor.Compressor,
	work *workspace.Workspace,
	stats *statistics.Statistics,
) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		comp:      comp,
		work:      work,
		stats:     stats,
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Mirrors the permissive CORS policy below
			},
		},
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/compress", s.handleCompress).Methods("POST", "OPTIONS")

	// API routes
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Service description
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"message": "Welcome to TIFF Squeeze API",
		"version": serviceVersion,
		"endpoints": map[string]string{
			"/compress":       "POST endpoint to compress TIFF files",
			"/api/status":     "GET endpoint for service status",
			"/api/statistics": "GET endpoint for aggregate statistics",
			"/ws":             "WebSocket endpoint for compression progress events",
			"/":               "This information endpoint",
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	s.stats.IncrementRequestsReceived()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.stats.IncrementRequestsRejected()
		s.writeError(w, fmt.Sprintf("Invalid multipart form: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.stats.IncrementRequestsRejected()
		s.writeError(w, "Form field 'file' is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// Extension gate runs before any bytes are decoded.
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".tif" && ext != ".tiff" {
		s.stats.IncrementRequestsRejected()
		s.writeError(w, "Only TIFF files are supported", http.StatusBadRequest)
		return
	}

	params, err := s.paramsFromForm(r)
	if err != nil {
		s.stats.IncrementRequestsRejected()
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := params.Validate(); err != nil {
		s.stats.IncrementRequestsRejected()
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	scope, err := s.work.NewScope()
	if err != nil {
		s.stats.IncrementRequestsFailed()
		s.writeError(w, fmt.Sprintf("Failed to allocate workspace: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := scope.Close(); err != nil {
			s.log.Warnf("Failed to clean up request scope %s: %v", scope.Dir(), err)
		}
	}()

	written, err := saveUpload(file, scope.InputPath())
	if err != nil {
		s.stats.IncrementRequestsFailed()
		s.writeError(w, fmt.Sprintf("Failed to store upload: %v", err), http.StatusInternalServerError)
		return
	}
	s.stats.AddBytesIn(written)

	requestID := filepath.Base(scope.Dir())
	params.InputPath = scope.InputPath()
	params.OutputPath = scope.OutputPath()
	params.Progress = func(p compressor.Progress) {
		s.broadcastWSMessage("compress_iteration", map[string]interface{}{
			"request_id": requestID,
			"iteration":  p.Iteration,
			"width":      p.Width,
			"height":     p.Height,
			"scale":      p.Scale,
			"size_kb":    p.SizeKB,
		})
	}

	atomic.AddInt64(&s.activeRequests, 1)
	defer atomic.AddInt64(&s.activeRequests, -1)

	s.broadcastWSMessage("compress_started", map[string]interface{}{
		"request_id":     requestID,
		"filename":       header.Filename,
		"target_size_kb": params.TargetSizeKB,
	})

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout)
	defer cancel()

	result, err := s.comp.Compress(ctx, params)
	if err != nil {
		s.stats.IncrementRequestsFailed()
		s.stats.AddError(header.Filename, "compress", err.Error())
		s.broadcastWSMessage("compress_failed", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})

		var invalid *compressor.InvalidParameterError
		if errors.As(err, &invalid) {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeError(w, fmt.Sprintf("Error during compression: %v", err), http.StatusInternalServerError)
		return
	}

	data, err := os.ReadFile(scope.OutputPath())
	if err != nil {
		s.stats.IncrementRequestsFailed()
		s.writeError(w, fmt.Sprintf("Failed to read compressed output: %v", err), http.StatusInternalServerError)
		return
	}

	s.stats.IncrementRequestsSucceeded()
	s.stats.AddBytesOut(int64(len(data)))
	s.stats.AddIterations(int64(result.Iterations))
	if result.TargetMet {
		s.stats.IncrementTargetsMet()
	} else {
		s.stats.IncrementTargetsMissed()
	}

	s.broadcastWSMessage("compress_completed", map[string]interface{}{
		"request_id": requestID,
		"iterations": result.Iterations,
		"size_kb":    result.SizeKB(),
		"target_met": result.TargetMet,
	})

	w.Header().Set("Content-Type", "image/tiff")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "compressed_"+filepath.Base(header.Filename)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	// The "best effort, not guaranteed" contract: callers compare these
	// against what they asked for.
	w.Header().Set("X-Target-Met", strconv.FormatBool(result.TargetMet))
	w.Header().Set("X-Output-Size-KB", fmt.Sprintf("%.1f", result.SizeKB()))
	w.Header().Set("X-Iterations", strconv.Itoa(result.Iterations))
	if _, err := w.Write(data); err != nil {
		s.log.Warnf("Failed to write response for %s: %v", header.Filename, err)
	}
}

// paramsFromForm builds compression parameters from the multipart form,
// seeded with the configured defaults. target_size_kb is the only required
// field.
func (s *Server) paramsFromForm(r *http.Request) (compressor.Params, error) {
	params := s.cfg.CompressionParams()

	if r.FormValue("target_size_kb") == "" {
		return params, errors.New("form field 'target_size_kb' is required")
	}
	target, err := formInt(r, "target_size_kb", 0)
	if err != nil {
		return params, err
	}
	params.TargetSizeKB = target

	if params.MinSizePercentage, err = formFloat(r, "min_size_percentage", params.MinSizePercentage); err != nil {
		return params, err
	}
	if params.ScaleFactor, err = formFloat(r, "scale_factor", params.ScaleFactor); err != nil {
		return params, err
	}
	if params.SharpnessFactor, err = formFloat(r, "sharpness_factor", params.SharpnessFactor); err != nil {
		return params, err
	}
	if params.ContrastFactor, err = formFloat(r, "contrast_factor", params.ContrastFactor); err != nil {
		return params, err
	}
	if params.BlurRadius, err = formFloat(r, "blur_radius", params.BlurRadius); err != nil {
		return params, err
	}
	if params.DPI, err = formInt(r, "dpi", params.DPI); err != nil {
		return params, err
	}
	return params, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":         true,
			"active_requests": atomic.LoadInt64(&s.activeRequests),
			"uptime":          time.Since(s.startedAt).String(),
			"version":         serviceVersion,
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"counters": s.stats.Snapshot(),
			"summary":  s.stats.GetSummary(),
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			// Remove failed connection
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}

// corsMiddleware mirrors the permissive CORS policy of the service: all
// origins, methods and headers are allowed.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// saveUpload copies the uploaded stream to path and returns the number of
// bytes written.
func saveUpload(src io.Reader, path string) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	written, err := io.Copy(out, src)
	if err != nil {
		return written, err
	}
	return written, out.Sync()
}

func formFloat(r *http.Request, name string, def float64) (float64, error) {
	value := r.FormValue(name)
	if value == "" {
		return def, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("form field '%s' must be a number", name)
	}
	return parsed, nil
}

func formInt(r *http.Request, name string, def int) (int, error) {
	value := r.FormValue(name)
	if value == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("form field '%s' must be an integer", name)
	}
	return parsed, nil
}
