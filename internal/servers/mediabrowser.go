package servers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/httpclient"
	"github.com/medleyhq/medley/internal/media"
)

// ticksPerMs converts MediaBrowser 100-nanosecond ticks to milliseconds
const ticksPerMs = 10_000

// MediaBrowserConfig holds configuration specific to each server flavour.
// Named after MediaBrowser, the project both Emby and Jellyfin forked from.
type MediaBrowserConfig struct {
	// ServerName is used in log messages (e.g. "Emby", "Jellyfin")
	ServerName string

	// ServerType is the registry server type
	ServerType database.ServerType

	// SetAuthHeader sets the appropriate authentication header for requests
	SetAuthHeader func(req *http.Request, apiKey string)

	// WebSocketPath is the path for WebSocket connections
	WebSocketPath string

	// WebSocketQueryParams returns additional query params for the WebSocket URL
	WebSocketQueryParams func(apiKey string) url.Values

	// SessionsStartData is the data field for the SessionsStart message
	SessionsStartData string
}

// MediaBrowserClient is the shared backend client for Emby and Jellyfin;
// both expose nearly identical APIs.
type MediaBrowserClient struct {
	server *database.Server
	client *http.Client
	config MediaBrowserConfig
}

// NewMediaBrowserClient creates a backend client with the given flavour config
func NewMediaBrowserClient(server *database.Server, cfg MediaBrowserConfig) *MediaBrowserClient {
	return &MediaBrowserClient{
		server: server,
		client: httpclient.NewTraceClient(cfg.ServerName, config.GetTimeouts().HTTPClient),
		config: cfg,
	}
}

// Server returns the registry row this client was built from
func (c *MediaBrowserClient) Server() *database.Server {
	return c.server
}

func (c *MediaBrowserClient) baseURL() string {
	return strings.TrimRight(c.server.URL, "/")
}

func (c *MediaBrowserClient) setHeaders(req *http.Request) {
	c.config.SetAuthHeader(req, c.server.APIKey)
	req.Header.Set("Accept", "application/json")
}

func (c *MediaBrowserClient) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", c.config.ServerName, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *MediaBrowserClient) postJSON(ctx context.Context, u string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", c.config.ServerName, resp.StatusCode, string(respBody))
	}
	return nil
}

// TestConnection verifies the connection to the media server
func (c *MediaBrowserClient) TestConnection(ctx context.Context) error {
	testURL := fmt.Sprintf("%s/System/Info", c.baseURL())

	req, err := http.NewRequestWithContext(ctx, "GET", testURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

const itemFields = "ProviderIds,MediaSources,Path,MediaStreams"

// Search runs a title search across the backend's libraries
func (c *MediaBrowserClient) Search(ctx context.Context, title string) ([]media.PlayableItem, error) {
	searchURL, err := url.Parse(fmt.Sprintf("%s/Items", c.baseURL()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := searchURL.Query()
	q.Set("searchTerm", title)
	q.Set("recursive", "true")
	q.Set("includeItemTypes", "Movie,Series,Season,Episode")
	q.Set("fields", itemFields)
	q.Set("limit", "50")
	searchURL.RawQuery = q.Encode()

	var result mediaBrowserItemsResponse
	if err := c.getJSON(ctx, searchURL.String(), &result); err != nil {
		return nil, err
	}

	items := make([]media.PlayableItem, 0, len(result.Items))
	for i := range result.Items {
		items = append(items, c.mapItem(&result.Items[i]))
	}
	return items, nil
}

// ItemDetail fetches one item with full technical metadata
func (c *MediaBrowserClient) ItemDetail(ctx context.Context, itemID string) (*media.PlayableItem, error) {
	detailURL, err := url.Parse(fmt.Sprintf("%s/Items", c.baseURL()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := detailURL.Query()
	q.Set("ids", itemID)
	q.Set("fields", itemFields)
	detailURL.RawQuery = q.Encode()

	var result mediaBrowserItemsResponse
	if err := c.getJSON(ctx, detailURL.String(), &result); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("%s has no item %s", c.config.ServerName, itemID)
	}

	item := c.mapItem(&result.Items[0])
	return &item, nil
}

// Children lists the child items of a show or season in hierarchy order
func (c *MediaBrowserClient) Children(ctx context.Context, parentID string) ([]media.PlayableItem, error) {
	childURL, err := url.Parse(fmt.Sprintf("%s/Items", c.baseURL()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := childURL.Query()
	q.Set("parentId", parentID)
	q.Set("fields", itemFields)
	q.Set("sortBy", "ParentIndexNumber,IndexNumber")
	childURL.RawQuery = q.Encode()

	var result mediaBrowserItemsResponse
	if err := c.getJSON(ctx, childURL.String(), &result); err != nil {
		return nil, err
	}

	items := make([]media.PlayableItem, 0, len(result.Items))
	for i := range result.Items {
		items = append(items, c.mapItem(&result.Items[i]))
	}
	return items, nil
}

// SetStreamSelection persists the chosen default streams on the backend
func (c *MediaBrowserClient) SetStreamSelection(ctx context.Context, itemID string, audioStreamIndex, subtitleStreamIndex int) error {
	u := fmt.Sprintf("%s/Items/%s/DefaultStreams", c.baseURL(), url.PathEscape(itemID))
	body := map[string]any{
		"AudioStreamIndex":    audioStreamIndex,
		"SubtitleStreamIndex": subtitleStreamIndex,
	}
	return c.postJSON(ctx, u, body)
}

// ReportProgress pushes the playback position to the backend
func (c *MediaBrowserClient) ReportProgress(ctx context.Context, itemID string, positionMs int64, paused bool) error {
	u := fmt.Sprintf("%s/Sessions/Playing/Progress", c.baseURL())
	body := map[string]any{
		"ItemId":        itemID,
		"PositionTicks": positionMs * ticksPerMs,
		"IsPaused":      paused,
	}
	return c.postJSON(ctx, u, body)
}

// StreamURL builds a playable URL for the given part
func (c *MediaBrowserClient) StreamURL(itemID string, part *media.MediaPart, opts StreamOptions) (string, error) {
	if itemID == "" {
		return "", fmt.Errorf("missing item id")
	}

	if opts.DirectPlay {
		u, err := url.Parse(fmt.Sprintf("%s/Videos/%s/stream", c.baseURL(), url.PathEscape(itemID)))
		if err != nil {
			return "", fmt.Errorf("failed to parse URL: %w", err)
		}
		q := u.Query()
		q.Set("static", "true")
		if part != nil && part.Key != "" {
			q.Set("mediaSourceId", part.Key)
		}
		q.Set("api_key", c.server.APIKey)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	u, err := url.Parse(fmt.Sprintf("%s/Videos/%s/main.m3u8", c.baseURL(), url.PathEscape(itemID)))
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	if part != nil && part.Key != "" {
		q.Set("mediaSourceId", part.Key)
	}
	if opts.BitrateBps > 0 {
		q.Set("videoBitrate", strconv.FormatInt(opts.BitrateBps, 10))
	}
	if opts.AudioStreamIndex >= 0 {
		q.Set("audioStreamIndex", strconv.Itoa(opts.AudioStreamIndex))
	}
	if opts.SubtitleStreamIndex >= 0 {
		q.Set("subtitleStreamIndex", strconv.Itoa(opts.SubtitleStreamIndex))
		q.Set("subtitleMethod", "Encode")
	}
	q.Set("api_key", c.server.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// mapItem converts a MediaBrowser item into the domain model
func (c *MediaBrowserClient) mapItem(it *mediaBrowserItem) media.PlayableItem {
	item := media.PlayableItem{
		ServerID:     c.server.ID,
		ID:           it.ID,
		Title:        it.Name,
		Type:         mapItemType(it.Type),
		Year:         it.ProductionYear,
		IMDBID:       it.ProviderIDs.Imdb,
		TMDBID:       it.ProviderIDs.Tmdb,
		ShowTitle:    it.SeriesName,
		ParentIndex:  it.ParentIndexNumber,
		EpisodeIndex: it.IndexNumber,
		DurationMs:   it.RunTimeTicks / ticksPerMs,
	}

	// Episodes hang off their season; seasons off their show
	switch {
	case it.SeasonID != "":
		item.ParentID = it.SeasonID
	case it.SeriesID != "":
		item.ParentID = it.SeriesID
	default:
		item.ParentID = it.ParentID
	}

	// The IMDb id doubles as the cross-server unification key when present
	if it.ProviderIDs.Imdb != "" {
		item.UnificationID = it.ProviderIDs.Imdb
	} else if it.ProviderIDs.Tmdb != "" {
		item.UnificationID = "tmdb:" + it.ProviderIDs.Tmdb
	}

	if it.UserData != nil {
		item.ViewOffsetMs = it.UserData.PlaybackPositionTicks / ticksPerMs
	}

	for i := range it.MediaSources {
		item.Parts = append(item.Parts, mapPart(&it.MediaSources[i]))
	}

	return item
}

func mapItemType(t string) media.ItemType {
	switch t {
	case "Movie":
		return media.ItemMovie
	case "Series":
		return media.ItemShow
	case "Season":
		return media.ItemSeason
	case "Episode":
		return media.ItemEpisode
	default:
		return media.ItemType(strings.ToLower(t))
	}
}

func mapPart(src *mediaBrowserMediaSource) media.MediaPart {
	part := media.MediaPart{
		Key:       src.ID,
		Container: src.Container,
		Size:      src.Size,
	}
	for i, s := range src.MediaStreams {
		stream := media.Stream{
			ID:       int64(i + 1),
			Index:    s.Index,
			Language: s.Language,
			Codec:    s.Codec,
			Title:    s.DisplayTitle,
			Default:  s.IsDefault,
			Forced:   s.IsForced,
			Selected: s.IsDefault,
			Channels: s.Channels,
			Width:    s.Width,
			Height:   s.Height,
			HDR:      s.VideoRange == "HDR",
		}
		switch s.Type {
		case "Video":
			stream.Type = media.StreamVideo
		case "Audio":
			stream.Type = media.StreamAudio
		case "Subtitle":
			stream.Type = media.StreamSubtitle
		default:
			stream.Type = media.StreamUnknown
		}
		part.Streams = append(part.Streams, stream)
	}
	return part
}

// MediaBrowser JSON structures (shared by Emby and Jellyfin)
type mediaBrowserItemsResponse struct {
	Items            []mediaBrowserItem `json:"Items"`
	TotalRecordCount int                `json:"TotalRecordCount"`
}

type mediaBrowserItem struct {
	ID                string                    `json:"Id"`
	Name              string                    `json:"Name"`
	Type              string                    `json:"Type"`
	ProductionYear    int                       `json:"ProductionYear,omitempty"`
	RunTimeTicks      int64                     `json:"RunTimeTicks,omitempty"`
	ParentID          string                    `json:"ParentId,omitempty"`
	SeriesID          string                    `json:"SeriesId,omitempty"`
	SeriesName        string                    `json:"SeriesName,omitempty"`
	SeasonID          string                    `json:"SeasonId,omitempty"`
	ParentIndexNumber int                       `json:"ParentIndexNumber,omitempty"`
	IndexNumber       int                       `json:"IndexNumber,omitempty"`
	ProviderIDs       mediaBrowserProviderIDs   `json:"ProviderIds,omitempty"`
	UserData          *mediaBrowserUserData     `json:"UserData,omitempty"`
	MediaSources      []mediaBrowserMediaSource `json:"MediaSources,omitempty"`
}

type mediaBrowserProviderIDs struct {
	Imdb string `json:"Imdb,omitempty"`
	Tmdb string `json:"Tmdb,omitempty"`
}

type mediaBrowserUserData struct {
	PlaybackPositionTicks int64 `json:"PlaybackPositionTicks"`
	PlayCount             int   `json:"PlayCount"`
	Played                bool  `json:"Played"`
}

type mediaBrowserMediaSource struct {
	ID           string                    `json:"Id"`
	Path         string                    `json:"Path"`
	Container    string                    `json:"Container"`
	Size         int64                     `json:"Size"`
	RunTimeTicks int64                     `json:"RunTimeTicks"`
	MediaStreams []mediaBrowserMediaStream `json:"MediaStreams,omitempty"`
}

type mediaBrowserMediaStream struct {
	Codec        string `json:"Codec"`
	Language     string `json:"Language,omitempty"`
	DisplayTitle string `json:"DisplayTitle,omitempty"`
	Type         string `json:"Type"`
	Index        int    `json:"Index"`
	IsDefault    bool   `json:"IsDefault"`
	IsForced     bool   `json:"IsForced"`
	Height       int    `json:"Height,omitempty"`
	Width        int    `json:"Width,omitempty"`
	Channels     int    `json:"Channels,omitempty"`
	VideoRange   string `json:"VideoRange,omitempty"`
}
