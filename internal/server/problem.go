package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/HerbHall/camlink/internal/services"
	"github.com/HerbHall/camlink/pkg/camera"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound       = "https://camlink.dev/problems/not-found"
	ProblemTypeBadRequest     = "https://camlink.dev/problems/bad-request"
	ProblemTypeInternal       = "https://camlink.dev/problems/internal-error"
	ProblemTypeConflict       = "https://camlink.dev/problems/conflict"
	ProblemTypeNoStrategy     = "https://camlink.dev/problems/no-matching-strategy"
	ProblemTypeUnreachable    = "https://camlink.dev/problems/device-unreachable"
	ProblemTypeCameraFailure  = "https://camlink.dev/problems/camera-failure"
	ProblemTypeNotSupported   = "https://camlink.dev/problems/not-supported"
	ProblemTypeSDKUnavailable = "https://camlink.dev/problems/sdk-unavailable"
)

// Problem represents an RFC 7807 Problem Details response. Code and
// Attempts are extension members.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
	Attempts any    `json:"attempts,omitempty"`
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   detail,
		Instance: instance,
	})
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeBadRequest,
		Title:    "Bad Request",
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: instance,
	})
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeInternal,
		Title:    "Internal Server Error",
		Status:   http.StatusInternalServerError,
		Detail:   detail,
		Instance: instance,
	})
}

// ProblemFor maps repository and camera errors onto a problem.
func ProblemFor(err error, instance string) Problem {
	p := Problem{Detail: camera.MaskCredentials(err.Error()), Instance: instance}

	switch {
	case errors.Is(err, services.ErrNotFound):
		p.Type, p.Title, p.Status = ProblemTypeNotFound, "Not Found", http.StatusNotFound
		return p
	case errors.Is(err, services.ErrAlreadyExists):
		p.Type, p.Title, p.Status = ProblemTypeConflict, "Conflict", http.StatusConflict
		return p
	}

	var ce *camera.Error
	if !errors.As(err, &ce) {
		p.Type, p.Title, p.Status = ProblemTypeInternal, "Internal Server Error", http.StatusInternalServerError
		return p
	}
	p.Code = string(ce.Code)
	switch ce.Code {
	case camera.ErrCodeValidation:
		p.Type, p.Title, p.Status = ProblemTypeBadRequest, "Invalid Camera", http.StatusBadRequest
	case camera.ErrCodeNoMatchingStrategy:
		p.Type, p.Title, p.Status = ProblemTypeNoStrategy, "No Matching Strategy", http.StatusUnprocessableEntity
	case camera.ErrCodeDeviceUnreachable, camera.ErrCodeUnreachable, camera.ErrCodeTimeout:
		p.Type, p.Title, p.Status = ProblemTypeUnreachable, "Camera Unreachable", http.StatusGatewayTimeout
	case camera.ErrCodeNotSupported:
		p.Type, p.Title, p.Status = ProblemTypeNotSupported, "Not Supported", http.StatusNotImplemented
	case camera.ErrCodeSDKUnavailable:
		p.Type, p.Title, p.Status = ProblemTypeSDKUnavailable, "SDK Unavailable", http.StatusServiceUnavailable
	case camera.ErrCodeProtocol, camera.ErrCodeAllCandidatesFailed:
		p.Type, p.Title, p.Status = ProblemTypeCameraFailure, "Camera Error", http.StatusBadGateway
	default:
		p.Type, p.Title, p.Status = ProblemTypeInternal, "Internal Server Error", http.StatusInternalServerError
	}
	return p
}

// WriteError writes the problem for err.
func WriteError(w http.ResponseWriter, err error, instance string) {
	WriteProblem(w, ProblemFor(err, instance))
}
