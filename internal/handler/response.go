package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"merchant-verification/internal/service"
	"merchant-verification/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError renders a VerificationError with its kind and details.
// Anything else becomes an opaque 500.
func respondWithError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var verr *service.VerificationError
	if !errors.As(err, &verr) {
		logger.Error("Unhandled error", util.ErrorField(err))
		respondWithJSON(w, http.StatusInternalServerError, Response{
			Error:   "InternalError",
			Message: "internal error",
		})
		return
	}

	status := statusForKind(verr.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error("Verification request failed", zap.String("kind", string(verr.Kind)), util.ErrorField(err))
	} else {
		logger.Debug("Verification request rejected", zap.String("kind", string(verr.Kind)), zap.String("message", verr.Message))
	}

	respondWithJSON(w, status, Response{
		Error:   string(verr.Kind),
		Message: verr.Message,
		Details: verr.Details,
	})
}

func respondBadRequest(w http.ResponseWriter, message string) {
	respondWithJSON(w, http.StatusBadRequest, Response{
		Error:   string(service.KindInvalidInput),
		Message: message,
	})
}

func statusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.KindAbuseLimitExceeded, service.KindAttemptsExhausted:
		return http.StatusTooManyRequests
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindExpired:
		return http.StatusGone
	case service.KindInvalidCode:
		return http.StatusUnauthorized
	case service.KindAlreadyVerified, service.KindAlreadyApproved, service.KindInvalidStage:
		return http.StatusConflict
	case service.KindVenueLocationMissing, service.KindPositionUnavailable:
		return http.StatusUnprocessableEntity
	case service.KindInvalidFileType:
		return http.StatusUnsupportedMediaType
	case service.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case service.KindDeliveryFailed:
		return http.StatusBadGateway
	case service.KindStorageError:
		return http.StatusServiceUnavailable
	case service.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
