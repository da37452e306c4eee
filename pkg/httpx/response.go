// Package httpx holds the JSON response helpers shared by every handler.
package httpx

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Warn("Failed to encode JSON response")
	}
}

// DataResponse is the envelope of every stats endpoint.
type DataResponse struct {
	Data interface{} `json:"data"`
}

// RespondData writes {"data": data} with status 200.
func RespondData(w http.ResponseWriter, data interface{}) {
	RespondJSON(w, http.StatusOK, DataResponse{Data: data})
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// RespondError writes an error response with the given status code and error message.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondErrorString(w, status, err.Error())
}

// RespondErrorString writes an error response with the given status code and error message string.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	RespondJSON(w, status, response)
}

// RespondFieldErrors writes a 422 listing the offending fields.
func RespondFieldErrors(w http.ResponseWriter, fields map[string]string) {
	response := ErrorResponse{
		Error:   http.StatusText(http.StatusUnprocessableEntity),
		Message: "validation failed",
		Fields:  fields,
	}
	RespondJSON(w, http.StatusUnprocessableEntity, response)
}

// InternalStorageError is the only message a client sees for a storage
// failure.
const InternalStorageError = "internal storage error"

// RespondStorageError logs err with op and answers an opaque 500.
func RespondStorageError(w http.ResponseWriter, log logrus.FieldLogger, op string, err error) {
	log.WithFields(logrus.Fields{
		"op":    op,
		"error": err,
	}).Error("Storage operation failed")
	RespondErrorString(w, http.StatusInternalServerError, InternalStorageError)
}
