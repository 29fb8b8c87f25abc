package handlers

import (
	"net/http"

	"github.com/upb/compliance-ledger/services"
	"github.com/upb/compliance-ledger/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	var writeErr error

	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, err.Error())

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsInvalidStateTransitionError(err):
		writeErr = utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse{
			Error:   "invalid_state_transition",
			Message: err.Error(),
			Details: details,
		})

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, err.Error(), details)

	case services.IsStorageUnavailableError(err):
		logger.Warn("storage unavailable", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, "Storage is temporarily unavailable")

	case services.IsIntegrityViolationError(err):
		// stored bytes no longer match their digest; never serve them
		logger.Error("integrity violation", zap.Error(err), zap.Any("details", details))
		writeErr = utils.WriteUnprocessableEntity(w, err.Error(), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, err.Error())

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, err.Error(), details)

	case services.IsRateLimitError(err):
		writeErr = utils.WriteTooManyRequests(w, err.Error(), details)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		var details map[string]interface{}
		if fields := utils.GetValidationFields(err); len(fields) > 0 {
			details = make(map[string]interface{}, len(fields))
			for k, v := range fields {
				details[k] = v
			}
		}
		if err := utils.WriteBadRequest(w, err.Error(), details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
