package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/pkg/logger"
)

// DefaultArea is used when a request names no area
const DefaultArea = "广州"

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondDomainError maps the error taxonomy onto HTTP status codes
func respondDomainError(w http.ResponseWriter, log *logger.Logger, err error, what string) {
	switch {
	case errors.Is(err, contracts.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, contracts.ErrInsufficientData):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.WithError(err).Error(what + " failed")
		respondError(w, http.StatusInternalServerError, what+" failed")
	}
}

// =============================================================================
// Query parameters
// =============================================================================

func queryArea(r *http.Request, fallback string) string {
	if area := strings.TrimSpace(r.URL.Query().Get("area")); area != "" {
		return area
	}
	return fallback
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, contracts.Invalid(name, "not an integer: %q", raw)
	}
	return v, nil
}

func queryFloat(r *http.Request, name string, fallback float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, contracts.Invalid(name, "not a number: %q", raw)
	}
	return v, nil
}

func queryBool(r *http.Request, name string, fallback bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, contracts.Invalid(name, "not a boolean: %q", raw)
	}
	return v, nil
}

func queryDate(r *http.Request, name string) (contracts.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return contracts.Date{}, nil
	}
	d, err := contracts.ParseDate(raw)
	if err != nil {
		return contracts.Date{}, contracts.Invalid(name, "expected YYYY-MM-DD, got %q", raw)
	}
	return d, nil
}

// firstErr returns the first non-nil error
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
