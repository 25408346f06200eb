// Package media defines the domain types shared across the catalog, the
// source resolver and the playback engine: items, parts, streams and the
// resolved cross-server sources attached to an item.
package media

// ItemType identifies the kind of a playable item
type ItemType string

const (
	ItemMovie   ItemType = "movie"
	ItemShow    ItemType = "show"
	ItemSeason  ItemType = "season"
	ItemEpisode ItemType = "episode"
)

// StreamType identifies the kind of a media stream within a part
type StreamType int

const (
	StreamUnknown StreamType = iota
	StreamVideo
	StreamAudio
	StreamSubtitle
)

// Stream represents a single stream inside a media part.
// Type-specific fields are only populated for the matching StreamType.
type Stream struct {
	ID       int64      `json:"id"`
	Type     StreamType `json:"type"`
	Index    int        `json:"index"` // ordinal within the part, as reported by the server
	Language string     `json:"language"`
	Codec    string     `json:"codec"`
	Title    string     `json:"title"`
	Default  bool       `json:"default"`
	Forced   bool       `json:"forced"`
	Selected bool       `json:"selected"` // the server's own selection flag

	// Audio
	Channels int `json:"channels,omitempty"`

	// Video
	Width  int  `json:"width,omitempty"`
	Height int  `json:"height,omitempty"`
	HDR    bool `json:"hdr,omitempty"`
}

// MediaPart represents a single media file with its streams
type MediaPart struct {
	ID        int64    `json:"id"`
	Key       string   `json:"key"` // server-side path or stream key
	Container string   `json:"container"`
	Size      int64    `json:"size"`
	Streams   []Stream `json:"streams"`
}

// AudioStreams returns the audio streams of the part in server order
func (p *MediaPart) AudioStreams() []Stream {
	return p.streamsOfType(StreamAudio)
}

// SubtitleStreams returns the subtitle streams of the part in server order
func (p *MediaPart) SubtitleStreams() []Stream {
	return p.streamsOfType(StreamSubtitle)
}

// VideoStream returns the first video stream of the part, or nil
func (p *MediaPart) VideoStream() *Stream {
	for i := range p.Streams {
		if p.Streams[i].Type == StreamVideo {
			return &p.Streams[i]
		}
	}
	return nil
}

func (p *MediaPart) streamsOfType(t StreamType) []Stream {
	var out []Stream
	for _, s := range p.Streams {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// MediaSource is one resolved playback candidate for an item on a specific
// server. Sources are never mutated after construction; the resolver replaces
// the whole list on an item copy.
type MediaSource struct {
	ServerID   int64    `json:"serverId"`
	ItemID     string   `json:"itemId"`
	ServerName string   `json:"serverName"`
	Resolution string   `json:"resolution,omitempty"` // e.g. "1080p (HEVC)"
	Codec      string   `json:"codec,omitempty"`
	Container  string   `json:"container,omitempty"`
	Bitrate    int64    `json:"bitrate,omitempty"`
	HDR        bool     `json:"hdr,omitempty"`
	Languages  []string `json:"languages,omitempty"` // audio languages
	Size       int64    `json:"size,omitempty"`
	Partial    bool     `json:"partial,omitempty"` // technical metadata could not be fetched
}

// PlayableItem identifies one piece of content on one server backend,
// together with its media parts and any resolved cross-server sources.
type PlayableItem struct {
	ServerID      int64    `json:"serverId"`
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Type          ItemType `json:"type"`
	Year          int      `json:"year,omitempty"`
	IMDBID        string   `json:"imdbId,omitempty"`
	TMDBID        string   `json:"tmdbId,omitempty"`
	UnificationID string   `json:"unificationId,omitempty"` // cross-server grouping key

	// Episode hierarchy
	ShowTitle    string `json:"showTitle,omitempty"`
	ParentID     string `json:"parentId,omitempty"` // season (episodes) or show (seasons)
	ParentIndex  int    `json:"parentIndex,omitempty"`
	EpisodeIndex int    `json:"episodeIndex,omitempty"`

	DurationMs   int64 `json:"durationMs,omitempty"`
	ViewOffsetMs int64 `json:"viewOffsetMs,omitempty"` // server-reported resume position

	Parts   []MediaPart   `json:"parts,omitempty"`
	Sources []MediaSource `json:"sources,omitempty"`
}

// IsEpisode reports whether the item is an episode
func (i *PlayableItem) IsEpisode() bool {
	return i.Type == ItemEpisode
}

// HasExternalIDs reports whether the item carries at least one external identifier
func (i *PlayableItem) HasExternalIDs() bool {
	return i.IMDBID != "" || i.TMDBID != ""
}

// FirstPart returns the first media part, or nil when the item has no parts
func (i *PlayableItem) FirstPart() *MediaPart {
	if len(i.Parts) == 0 {
		return nil
	}
	return &i.Parts[0]
}

// Clone returns a deep copy of the item. Enrichment (sources, streams) always
// works on copies so callers holding the original never observe mutation.
func (i *PlayableItem) Clone() PlayableItem {
	out := *i
	if i.Parts != nil {
		out.Parts = make([]MediaPart, len(i.Parts))
		for idx, p := range i.Parts {
			cp := p
			cp.Streams = append([]Stream(nil), p.Streams...)
			out.Parts[idx] = cp
		}
	}
	if i.Sources != nil {
		out.Sources = make([]MediaSource, len(i.Sources))
		for idx, s := range i.Sources {
			cs := s
			cs.Languages = append([]string(nil), s.Languages...)
			out.Sources[idx] = cs
		}
	}
	return out
}

// WithSources returns a copy of the item with the given resolved sources
func (i *PlayableItem) WithSources(sources []MediaSource) PlayableItem {
	out := i.Clone()
	out.Sources = sources
	return out
}
