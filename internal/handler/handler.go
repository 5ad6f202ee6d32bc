package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/angeloszaimis/addrselect/internal/selector"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type SelectorHandler struct {
	logger   *slog.Logger
	selector selector.Selector
}

type addressRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type reportRequest struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Outcome string `json:"outcome"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (r addressRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Host, validation.Required, is.Host),
		validation.Field(&r.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

func (r reportRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Host, validation.Required, is.Host),
		validation.Field(&r.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&r.Outcome, validation.Required, validation.In(OutcomeSuccess, OutcomeFailure)),
	)
}

func NewSelectorHandler(logger *slog.Logger, sel selector.Selector) *SelectorHandler {
	return &SelectorHandler{
		logger:   logger,
		selector: sel,
	}
}

// ListAddresses serves GET /addresses.
func (h *SelectorHandler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.selector.Get())
}

// AddAddress serves POST /addresses.
func (h *SelectorHandler) AddAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.selector.AddAddr(req.Host, req.Port)
	h.logger.Info("Address registered",
		slog.String("from", extractClientIP(r)),
		slog.String("endpoint", selector.Address{Host: req.Host, Port: req.Port}.String()))

	writeJSON(w, http.StatusCreated, selector.Address{Host: req.Host, Port: req.Port})
}

// RemoveAddress serves DELETE /addresses?host=&port=.
func (h *SelectorHandler) RemoveAddress(w http.ResponseWriter, r *http.Request) {
	req, ok := h.queryAddress(w, r)
	if !ok {
		return
	}

	h.selector.RemoveAddr(req.Host, req.Port)
	h.logger.Info("Address removed",
		slog.String("from", extractClientIP(r)),
		slog.String("endpoint", selector.Address{Host: req.Host, Port: req.Port}.String()))

	w.WriteHeader(http.StatusNoContent)
}

// Next serves GET /next.
func (h *SelectorHandler) Next(w http.ResponseWriter, r *http.Request) {
	addr, err := h.selector.Next()
	if err != nil {
		if errors.Is(err, selector.ErrNoAddress) {
			h.logger.Warn("No address available",
				slog.String("client", extractClientIP(r)),
				slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	h.logger.Debug("Address selected",
		slog.String("client", extractClientIP(r)),
		slog.String("endpoint", addr.String()))
	writeJSON(w, http.StatusOK, addr)
}

// Report serves POST /report.
func (h *SelectorHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if !h.decode(w, r, &req) {
		return
	}

	switch req.Outcome {
	case OutcomeSuccess:
		h.selector.Succeed(req.Host, req.Port)
	case OutcomeFailure:
		h.selector.Failed(req.Host, req.Port)
	}

	w.WriteHeader(http.StatusNoContent)
}

// State serves GET /addresses/state?host=&port= for selectors that keep
// per-endpoint state.
func (h *SelectorHandler) State(w http.ResponseWriter, r *http.Request) {
	inspector, ok := h.selector.(interface {
		State(host string, port int) (selector.EndpointState, bool)
	})
	if !ok {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "selector keeps no endpoint state"})
		return
	}

	req, ok := h.queryAddress(w, r)
	if !ok {
		return
	}

	state, found := inspector.State(req.Host, req.Port)
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "address not registered"})
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (h *SelectorHandler) decode(w http.ResponseWriter, r *http.Request, v validation.Validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}

	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}

	return true
}

func (h *SelectorHandler) queryAddress(w http.ResponseWriter, r *http.Request) (addressRequest, bool) {
	q := r.URL.Query()
	port, err := strconv.Atoi(q.Get("port"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "port: must be an integer"})
		return addressRequest{}, false
	}

	req := addressRequest{Host: q.Get("host"), Port: port}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return addressRequest{}, false
	}

	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
