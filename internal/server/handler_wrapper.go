package server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/server/handlers"
)

const (
	codeBadRequest errors.ErrorCode = "BAD_REQUEST"
	codeInternal   errors.ErrorCode = "INTERNAL"
)

// Wrap wraps a handler function to work as an http.Handler.
// The function must have signature: func(context.Context, In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Path parameters can be extracted by tagging struct fields with `path:"name"`
// and query parameters with `query:"name"`.
//
// Numbers in the body are decoded as json.Number so the column type decides
// between integer and real.
//
// Example:
//
//	type GetTableRequest struct {
//	    Table string `path:"table" json:"-"`
//	}
//
//	func (h *Handler) GetTable(ctx context.Context, req GetTableRequest) (*TableResponse, error)
func Wrap[In any, Out any](fn func(context.Context, In) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		body, err := io.ReadAll(r.Body)
		if err2 := r.Body.Close(); err == nil {
			err = err2
		}
		if err != nil {
			slog.ErrorContext(ctx, "Failed to read request body", "err", err)
			writeErrorResponse(w, http.StatusBadRequest, "Failed to read request body")
			return
		}
		var input In
		if len(bytes.TrimSpace(body)) > 0 {
			d := json.NewDecoder(bytes.NewReader(body))
			d.DisallowUnknownFields()
			d.UseNumber()
			if err := d.Decode(&input); err != nil {
				slog.WarnContext(ctx, "Failed to decode request body", "err", err)
				writeErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
				return
			}
		}

		populatePathParams(r, &input)
		populateQueryParams(r, &input)

		output, err := fn(ctx, input)
		if err != nil {
			statusCode := statusFor(err)
			errorCode := codeInternal
			var details map[string]any
			var e *errors.Error
			if stderrors.As(err, &e) {
				errorCode = e.Code()
				details = e.Details()
			} else if statusCode == http.StatusBadRequest {
				errorCode = codeBadRequest
			}
			if statusCode >= http.StatusInternalServerError {
				slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", statusCode, "code", errorCode)
			} else {
				slog.DebugContext(ctx, "Handler error", "err", err, "statusCode", statusCode, "code", errorCode)
			}
			writeErrorResponseWithCode(w, statusCode, errorCode, err.Error(), details)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(output); err != nil {
			slog.ErrorContext(ctx, "Failed to encode response", "err", err)
		}
	})
}

// statusFor maps an error to the HTTP status code returned to the client.
func statusFor(err error) int {
	var ir *handlers.InvalidRequestError
	if stderrors.As(err, &ir) {
		return http.StatusBadRequest
	}
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return http.StatusInternalServerError
	}
	//nolint:exhaustive // The remaining codes are client errors.
	switch e.Code() {
	case errors.ErrTableNotFound:
		return http.StatusNotFound
	case errors.ErrTableExists, errors.ErrTableReferenced, errors.ErrDuplicatePrimaryKey,
		errors.ErrForeignKeyViolation, errors.ErrPrimaryKeyCollisionRisk, errors.ErrPropagation:
		return http.StatusConflict
	case errors.ErrClosed:
		return http.StatusServiceUnavailable
	}
	if e.Class() == errors.ClassStorage {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// populatePathParams extracts path parameters from the request and populates
// struct fields tagged with `path:"paramName"`.
func populatePathParams(r *http.Request, input any) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Ptr {
		return
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("path")
		if tag == "" {
			continue
		}
		paramValue := r.PathValue(tag)
		if paramValue == "" {
			continue
		}
		if field.Type.Kind() == reflect.String {
			elem.Field(i).SetString(paramValue)
		}
	}
}

// populateQueryParams extracts query parameters from the request and populates
// struct fields tagged with `query:"paramName"`.
func populateQueryParams(r *http.Request, input any) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Ptr {
		return
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return
	}
	query := r.URL.Query()
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("query")
		if tag == "" {
			continue
		}
		paramValue := query.Get(tag)
		if paramValue == "" {
			continue
		}
		//nolint:exhaustive // Only string and int are supported for query params currently
		switch field.Type.Kind() {
		case reflect.String:
			elem.Field(i).SetString(paramValue)
		case reflect.Int:
			if intVal, err := strconv.Atoi(paramValue); err == nil {
				elem.Field(i).SetInt(int64(intVal))
			}
		default:
		}
	}
}

// writeErrorResponse writes an error response as JSON.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	writeErrorResponseWithCode(w, statusCode, codeBadRequest, message, nil)
}

// writeErrorResponseWithCode writes a detailed error response as JSON with code and details.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code errors.ErrorCode, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if len(details) > 0 {
		response["details"] = details
	}
	_ = json.NewEncoder(w).Encode(response)
}
