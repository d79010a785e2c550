package api

import (
	"encoding/json"
	"net/http"

	xerrors "TopEquations/internal/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StatusOf 把领域错误码映射为 HTTP 状态码。
func StatusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, xerrors.CodeAlreadyPromoted:
		return http.StatusConflict
	case xerrors.CodeUnresolvedRecord:
		return http.StatusUnprocessableEntity
	case xerrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case xerrors.CodePermissionDenied:
		return http.StatusForbidden
	case xerrors.CodeAdvisoryFailure, xerrors.CodeLedgerFailure:
		return http.StatusBadGateway
	case xerrors.CodeLockFailure, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	detail := errorDetail{Code: string(code), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		detail.Message = e.Message()
		detail.Metadata = e.Metadata()
	}
	writeJSON(w, StatusOf(code), errorBody{Error: detail})
}

func writeCodedError(w http.ResponseWriter, code xerrors.Code, message string) {
	writeJSON(w, StatusOf(code), errorBody{Error: errorDetail{Code: string(code), Message: message}})
}
