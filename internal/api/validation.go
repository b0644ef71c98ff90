package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxTenantIDLength = 128

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// syncRequest is the trigger body. serverId is the older name for tenantId
// and is still accepted.
type syncRequest struct {
	TenantID string `json:"tenantId"`
	ServerID string `json:"serverId"`
}

// decodeSyncRequest reads an optional JSON body and returns the tenant to
// sync, or "" for all tenants.
func decodeSyncRequest(body io.Reader) (string, error) {
	var req syncRequest
	if err := json.NewDecoder(io.LimitReader(body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", ValidationError{Field: "body", Message: "invalid JSON payload"}
	}

	tenantID := strings.TrimSpace(req.TenantID)
	serverID := strings.TrimSpace(req.ServerID)
	if tenantID != "" && serverID != "" && tenantID != serverID {
		return "", ValidationError{Field: "tenantId", Message: "conflicts with serverId"}
	}
	if tenantID == "" {
		tenantID = serverID
	}
	if len(tenantID) > maxTenantIDLength {
		return "", ValidationError{Field: "tenantId", Message: "too long"}
	}
	return tenantID, nil
}
