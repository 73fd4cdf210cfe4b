package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aefi-io/aefi/internal/pkg/metrics"
	httpmw "github.com/aefi-io/aefi/internal/pkg/middleware/http"
	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/internal/stageagent/motion"
	"github.com/aefi-io/aefi/pkg/log"
	"github.com/aefi-io/aefi/pkg/options"
)

const archiveURLExpiry = 15 * time.Minute

// Scheduler is the part of *motion.Scheduler the API serves.
type Scheduler interface {
	SubmitNormal(cmd core.Command) error
	SubmitPriority(cmd core.Command)
	SubmitScan(cfg core.ScanConfig) (*motion.ScanHandle, error)
	Snapshot() motion.Snapshot
	Scan(id string) (*motion.ScanHandle, bool)
	Scans() []*motion.ScanHandle
	Running() bool
}

// ArchiveLinker hands out download links for archived scans.
type ArchiveLinker interface {
	URL(ctx context.Context, scanID string, expiry time.Duration) (string, error)
}

type HTTPServer struct {
	server   *http.Server
	network  string
	sched    Scheduler
	archive  ArchiveLinker
	shutdown time.Duration
	logger   log.Logger
}

// NewHTTPServer builds the API. archive may be nil when archiving is off.
func NewHTTPServer(opts *options.HttpOptions, sched Scheduler, archive ArchiveLinker) *HTTPServer {
	s := &HTTPServer{
		network:  opts.Network,
		sched:    sched,
		archive:  archive,
		shutdown: opts.ShutdownTimeout,
		logger:   log.WithName("server.http"),
	}

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Router(opts.Timeout),
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

// Router is the full handler tree, exposed for tests.
func (s *HTTPServer) Router(timeout time.Duration) http.Handler {
	r := mux.NewRouter()
	r.Use(httpmw.Logging(s.logger), httpmw.Timeout(timeout))

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/commands", s.postCommand).Methods(http.MethodPost)
	v1.HandleFunc("/stop", s.postStop).Methods(http.MethodPost)
	v1.HandleFunc("/scans", s.postScan).Methods(http.MethodPost)
	v1.HandleFunc("/scans", s.listScans).Methods(http.MethodGet)
	v1.HandleFunc("/scans/{id}", s.getScan).Methods(http.MethodGet)
	v1.HandleFunc("/scans/{id}/archive", s.getArchive).Methods(http.MethodGet)
	v1.HandleFunc("/position", s.getPosition).Methods(http.MethodGet)
	v1.HandleFunc("/state", s.getState).Methods(http.MethodGet)

	return r
}

func (s *HTTPServer) Start(ctx context.Context) error {
	network := s.network
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	s.logger.Info("Starting HTTP Server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *HTTPServer) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readyz is ready once the worker loop runs.
func (s *HTTPServer) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.sched.Running() {
		http.Error(w, "motion worker not running", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *HTTPServer) postCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if !decode(w, r, &req) {
		return
	}
	cmd, err := req.ToCommand()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.sched.SubmitNormal(cmd); err != nil {
		writeError(w, submitStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, CommandResponse{ID: cmd.ID, Kind: cmd.Kind})
}

func (s *HTTPServer) postStop(w http.ResponseWriter, _ *http.Request) {
	cmd := core.Stop()
	s.sched.SubmitPriority(cmd)
	writeJSON(w, http.StatusAccepted, CommandResponse{ID: cmd.ID, Kind: cmd.Kind})
}

func (s *HTTPServer) postScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !decode(w, r, &req) {
		return
	}

	h, err := s.sched.SubmitScan(req.ToConfig())
	if err != nil {
		writeError(w, submitStatus(err), err)
		return
	}
	w.Header().Set("Location", "/v1/scans/"+h.ID())
	writeJSON(w, http.StatusCreated, h.Status())
}

func (s *HTTPServer) listScans(w http.ResponseWriter, _ *http.Request) {
	handles := s.sched.Scans()
	out := make([]motion.ScanStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Status())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) getScan(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sched.Scan(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown scan"))
		return
	}
	writeJSON(w, http.StatusOK, h.Status())
}

// getArchive redirects to a presigned link of the archived scan document.
func (s *HTTPServer) getArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, errors.New("scan archive is disabled"))
		return
	}
	id := mux.Vars(r)["id"]
	if h, ok := s.sched.Scan(id); ok {
		select {
		case <-h.Done():
		default:
			writeError(w, http.StatusConflict, errors.New("scan has not finished"))
			return
		}
	}

	u, err := s.archive.URL(r.Context(), id, archiveURLExpiry)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	http.Redirect(w, r, u, http.StatusTemporaryRedirect)
}

func (s *HTTPServer) getPosition(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Snapshot().Position)
}

func (s *HTTPServer) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newStateResponse(s.sched.Snapshot()))
}

// submitStatus maps a submission error to its HTTP status.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrRejected):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
