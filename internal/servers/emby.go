package servers

import (
	"net/http"
	"net/url"

	"github.com/medleyhq/medley/internal/database"
)

// NewEmbyClient creates a backend client for an Emby server
func NewEmbyClient(server *database.Server) *MediaBrowserClient {
	return NewMediaBrowserClient(server, MediaBrowserConfig{
		ServerName: "Emby",
		ServerType: database.ServerTypeEmby,
		SetAuthHeader: func(req *http.Request, apiKey string) {
			req.Header.Set("X-Emby-Token", apiKey)
		},
		WebSocketPath: "/embywebsocket",
		WebSocketQueryParams: func(apiKey string) url.Values {
			return url.Values{
				"api_key":  {apiKey},
				"deviceId": {"medley"},
			}
		},
		SessionsStartData: "100,800",
	})
}
