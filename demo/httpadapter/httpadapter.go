// Package httpadapter exposes the facade over HTTP, translating inbound
// requests into control.Info and the facade's decisions back into JSON.
// It is the sidecar's front door in the reference deployment: a real
// integration would instead call the facade directly from wherever the
// proxied request is already being handled.
package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alfred-dev/control-sidecar/internal/control"
	"github.com/alfred-dev/control-sidecar/internal/observability"
)

// Request headers infoFromRequest reads; the platform and protocol
// headers are copied verbatim into Info.Platform and Info.Protocol.
const (
	headerOperationName = "X-Operation-Name"
	headerAPIKey        = "X-Api-Key"
	headerConsumerProject = "X-Consumer-Project"
	headerPlatform      = "X-Reported-Platform"
	headerProtocol      = "X-Reported-Protocol"
)

// Adapter wires a control.Facade into an HTTP handler tree.
type Adapter struct {
	facade  *control.Facade
	log     zerolog.Logger
	metrics *observability.Metrics
}

// New constructs an Adapter.
func New(facade *control.Facade, log zerolog.Logger, metrics *observability.Metrics) *Adapter {
	return &Adapter{facade: facade, log: log.With().Str("component", "httpadapter").Logger(), metrics: metrics}
}

// NewRouter returns a chi.Router exposing /healthz, /metrics, and the
// three aggregation endpoints (/v1/check, /v1/quota, /v1/report).
func (a *Adapter) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(a.requestLogger)

	r.Get("/healthz", a.handleHealthz)
	if a.metrics != nil {
		r.Get("/metrics", a.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/check", a.handleCheck)
		r.Post("/quota", a.handleAllocateQuota)
		r.Post("/report", a.handleReport)
	})

	return r
}

func (a *Adapter) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rw, r)
		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("req_id", chimw.GetReqID(r.Context())).
			Int("status", rw.Status()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// infoFromRequest builds a control.Info from the inbound call's headers
// and metadata. A production adapter would derive most of this from the
// proxied request itself; here the caller supplies it directly so the
// sidecar can be exercised without a full proxy in front of it.
func infoFromRequest(r *http.Request) *control.Info {
	apiKey := r.Header.Get(headerAPIKey)
	info := &control.Info{
		OperationID:   uuid.NewString(),
		OperationName: r.Header.Get(headerOperationName),
		APIKey:        apiKey,
		APIKeyValid:   apiKey != "",
		Platform:      r.Header.Get(headerPlatform),
		Protocol:      r.Header.Get(headerProtocol),
		HTTPMethod:    r.Method,
		URL:           r.URL.String(),
		ClientIP:      r.RemoteAddr,
		Referer:       r.Header.Get("Referer"),
		RequestSize:   r.ContentLength,
	}
	if apiKey == "" {
		info.ConsumerProjectNumber = r.Header.Get(headerConsumerProject)
	}
	return info
}

func (a *Adapter) handleCheck(w http.ResponseWriter, r *http.Request) {
	info := infoFromRequest(r)
	resp, err := a.facade.Check(r.Context(), info)
	if err != nil {
		writeError(w, http.StatusPreconditionFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Adapter) handleAllocateQuota(w http.ResponseWriter, r *http.Request) {
	info := infoFromRequest(r)
	info.QuotaInfo = map[string]int64{}
	for name, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		if cost, err := strconv.ParseInt(values[0], 10, 64); err == nil {
			info.QuotaInfo[name] = cost
		}
	}
	resp, err := a.facade.AllocateQuota(r.Context(), info)
	if err != nil {
		writeError(w, http.StatusPreconditionFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Adapter) handleReport(w http.ResponseWriter, r *http.Request) {
	info := infoFromRequest(r)
	info.ResponseCode = http.StatusOK
	info.EndTime = time.Now()
	if err := a.facade.Report(r.Context(), info); err != nil {
		writeError(w, http.StatusPreconditionFailed, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
