package coinsnap

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// PermCreatePullPayments is the API key permission required to issue refunds.
const PermCreatePullPayments = "store.cancreatepullpayments"

// refundsMinVersion is the first server release with pull-payment support.
var refundsMinVersion = [3]int{1, 7, 6}

// ServerInfo describes the remote server's version and capabilities.
type ServerInfo struct {
	Version string `json:"version"`
}

// SupportsRefunds reports whether the server version is recent enough for
// pull payments.
func (i ServerInfo) SupportsRefunds() bool {
	parsed, ok := parseVersion(i.Version)
	if !ok {
		return false
	}
	for idx := 0; idx < 3; idx++ {
		if parsed[idx] != refundsMinVersion[idx] {
			return parsed[idx] > refundsMinVersion[idx]
		}
	}
	return true
}

// GetServerInfo queries the server version endpoint.
func (c *Client) GetServerInfo(ctx context.Context) (ServerInfo, error) {
	var info ServerInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/server/info", nil, &info); err != nil {
		return ServerInfo{}, err
	}
	return info, nil
}

// APIKeyInfo describes the permissions granted to the configured key.
type APIKeyInfo struct {
	Label       string   `json:"label"`
	Permissions []string `json:"permissions"`
}

// HasPermission checks for a permission, ignoring any store scope suffix.
func (k APIKeyInfo) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == perm || strings.HasPrefix(p, perm+":") {
			return true
		}
	}
	return false
}

// GetAPIKeyInfo queries the current API key's grants.
func (c *Client) GetAPIKeyInfo(ctx context.Context) (APIKeyInfo, error) {
	var info APIKeyInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/api-keys/current", nil, &info); err != nil {
		return APIKeyInfo{}, err
	}
	return info, nil
}

func parseVersion(v string) ([3]int, bool) {
	var out [3]int
	trimmed := strings.TrimPrefix(strings.TrimSpace(v), "v")
	if trimmed == "" {
		return out, false
	}
	// tolerate suffixes like 1.8.0-beta1
	if idx := strings.IndexAny(trimmed, "-+"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	parts := strings.Split(trimmed, ".")
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
