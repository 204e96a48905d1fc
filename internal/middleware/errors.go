package middleware

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
)

// WriteError writes err as the JSON error body shared by every route
func WriteError(w http.ResponseWriter, err *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	_ = json.NewEncoder(w).Encode(err)
}
