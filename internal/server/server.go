package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/docker/artifact-policy-check/pkg/evaluation"
	"github.com/docker/artifact-policy-check/pkg/worker"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRoute        = "/api/ArtifactPolicyCheck"
	defaultMaxBodyBytes = 16 << 20
)

type Evaluator interface {
	Evaluate(ctx context.Context, req *evaluation.Request) (*evaluation.Outcome, error)
}

type Options struct {
	Route        string
	MaxBodyBytes int64
	Log          logrus.FieldLogger
}

// Handler serves the policy check endpoint and a health probe.
type Handler struct {
	evaluator    Evaluator
	maxBodyBytes int64
	log          logrus.FieldLogger
	mux          *http.ServeMux
}

func NewHandler(evaluator Evaluator, opts *Options) *Handler {
	if opts == nil {
		opts = &Options{}
	}
	route := opts.Route
	if route == "" {
		route = DefaultRoute
	}
	h := &Handler{
		evaluator:    evaluator,
		maxBodyBytes: opts.MaxBodyBytes,
		log:          opts.Log,
		mux:          http.NewServeMux(),
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = defaultMaxBodyBytes
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	h.mux.HandleFunc("/healthz", h.handleHealth)
	h.mux.HandleFunc(route, h.handleCheck)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	log := h.log.WithField("remote", r.RemoteAddr)

	req, err := evaluation.ParseRequest(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.writeError(w, log, err)
		return
	}

	outcome, err := h.evaluator.Evaluate(r.Context(), req)
	if err != nil {
		h.writeError(w, log, err)
		return
	}

	if outcome.Accepted {
		log.WithField("checkSuiteId", req.CheckSuiteID).Info("accepted asynchronous policy check")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	log.WithFields(logrus.Fields{
		"violationType": outcome.Result.ViolationType,
		"violations":    len(outcome.Result.Violations),
		"duration":      time.Since(start),
	}).Info("completed synchronous policy check")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(outcome.Result); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	var reqErr *evaluation.RequestError
	switch {
	case errors.As(err, &reqErr):
		log.WithError(err).Info("rejected policy check request")
		http.Error(w, reqErr.Message, http.StatusBadRequest)
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrPoolClosed), errors.Is(err, evaluation.ErrAsyncUnavailable):
		log.WithError(err).Warn("policy check unavailable")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		log.WithError(err).Error("policy check failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
