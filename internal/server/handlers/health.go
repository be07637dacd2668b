package handlers

import "context"

// HealthRequest is the request type for health check (empty).
type HealthRequest struct{}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status string `json:"status"`
	Tables int    `json:"tables"`
}

// Health returns the health status of the server and the number of live
// tables.
func (h *TableHandler) Health(ctx context.Context, req HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{Status: "ok", Tables: len(h.db.ListTables())}, nil
}
