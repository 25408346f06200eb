package media

import (
	"fmt"
	"strings"
)

// FormatCodec normalizes a codec identifier into its common display form
func FormatCodec(codec string) string {
	switch strings.ToLower(codec) {
	case "h264", "avc":
		return "H.264"
	case "hevc", "h265":
		return "HEVC"
	case "av1":
		return "AV1"
	case "vp9":
		return "VP9"
	case "mpeg4":
		return "MPEG-4"
	case "":
		return ""
	default:
		return strings.ToUpper(codec)
	}
}

// FormatVideo renders a compact "1080p (HEVC)" label from a video stream.
// Returns an empty string when neither height nor codec is known.
func FormatVideo(s *Stream) string {
	if s == nil {
		return ""
	}

	var res string
	if s.Height > 0 {
		res = fmt.Sprintf("%dp", s.Height)
	}

	codec := FormatCodec(s.Codec)
	switch {
	case res == "" && codec == "":
		return ""
	case codec == "":
		return res
	case res == "":
		return codec
	default:
		return fmt.Sprintf("%s (%s)", res, codec)
	}
}

// SourceFrom builds a MediaSource describing the item as stored on its own
// server. Technical metadata is best-effort: items without parts yield a
// partial source.
func SourceFrom(item *PlayableItem, serverName string) MediaSource {
	src := MediaSource{
		ServerID:   item.ServerID,
		ItemID:     item.ID,
		ServerName: serverName,
	}

	part := item.FirstPart()
	if part == nil {
		src.Partial = true
		return src
	}

	src.Container = part.Container
	src.Size = part.Size

	if v := part.VideoStream(); v != nil {
		src.Resolution = FormatVideo(v)
		src.Codec = v.Codec
		src.HDR = v.HDR
	}

	seen := make(map[string]struct{})
	for _, a := range part.AudioStreams() {
		if a.Language == "" {
			continue
		}
		if _, ok := seen[a.Language]; ok {
			continue
		}
		seen[a.Language] = struct{}{}
		src.Languages = append(src.Languages, a.Language)
	}

	return src
}
