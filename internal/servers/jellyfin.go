package servers

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/medleyhq/medley/internal/database"
)

// NewJellyfinClient creates a backend client for a Jellyfin server
func NewJellyfinClient(server *database.Server) *MediaBrowserClient {
	return NewMediaBrowserClient(server, MediaBrowserConfig{
		ServerName: "Jellyfin",
		ServerType: database.ServerTypeJellyfin,
		SetAuthHeader: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", fmt.Sprintf("MediaBrowser Token=%q", apiKey))
		},
		WebSocketPath: "/socket",
		WebSocketQueryParams: func(apiKey string) url.Values {
			return url.Values{"api_key": {apiKey}}
		},
		SessionsStartData: "100,800",
	})
}
