// Package ice resolves the STUN/relay configuration used for peer
// connections. The server is asked once per authenticated session; any
// failure silently falls back to the built-in default.
package ice

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/fastsock/fastsock/internal/util"
)

// serversPath is the REST endpoint returning {"ice_servers": [...]}.
const serversPath = "/api/v1/webrtc/ice-servers"

var httpClient = &http.Client{Timeout: 10 * time.Second}

// DefaultServers is used when the server returns nothing usable.
// Direct STUN only; relay credentials, when the deployment has them,
// come from the fetch.
var DefaultServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// Fetch asks the server for its ICE server list. It never fails: any
// transport error, bad status, or empty list yields DefaultServers.
func Fetch(ctx context.Context, baseURL, token string) []webrtc.ICEServer {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+serversPath, nil)
	if err != nil {
		return DefaultServers
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		util.LogDebug("ice server fetch failed: %v", err)
		return DefaultServers
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		util.LogDebug("ice server fetch: unexpected status %s", resp.Status)
		return DefaultServers
	}

	var body struct {
		ICEServers []webrtc.ICEServer `json:"ice_servers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		util.LogDebug("ice server fetch: bad payload: %v", err)
		return DefaultServers
	}
	if len(body.ICEServers) == 0 {
		return DefaultServers
	}

	util.LogInfo("using %d ice server(s) from %s", len(body.ICEServers), baseURL)
	return body.ICEServers
}
