package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.Validation, "malformed request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps err to its HTTP status via apperr's central Category
// mapper and writes a small JSON error body. Errors that aren't already
// categorized are treated as fatal (500) so nothing leaks uncategorized
// detail to the client.
func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal(err)
	}
	body := map[string]any{"error": appErr.Message}
	if appErr.Detail != "" {
		body["detail"] = appErr.Detail
	}
	if appErr.CorrelationID != "" {
		body["correlation_id"] = appErr.CorrelationID
	}
	if appErr.TokenExpired {
		body["token_expired"] = true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}
