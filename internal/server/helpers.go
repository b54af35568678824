package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := xjson.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeMessage writes a JSON error body.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeError maps err to a status code and writes it. Structured errors
// carry their code and details.
func writeError(w http.ResponseWriter, err error) {
	se, ok := err.(*schema.Error)
	if !ok {
		writeMessage(w, schema.StatusOf(err), err.Error())
		return
	}
	body := map[string]any{"error": se.Message, "code": se.Code}
	if se.NodeID != "" {
		body["nodeId"] = se.NodeID
	}
	if len(se.Details) > 0 {
		body["details"] = se.Details
	}
	writeJSON(w, se.HTTPStatus(), body)
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	raw, err := readBody(r)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := xjson.Unmarshal(raw, v); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON: %v", err).WithCause(err)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "read body: %v", err).WithCause(err)
	}
	if len(raw) > maxBodyBytes {
		return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("body exceeds %d bytes", maxBodyBytes))
	}
	return raw, nil
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
