package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// mpv runs a persistent mpv process controlled over its JSON IPC socket.
// Playback state is mirrored locally from observed property changes, so
// Status never blocks on the socket.
type mpv struct {
	cmd       *exec.Cmd
	conn      net.Conn
	socketDir string

	mu         sync.Mutex
	positionMs int64
	durationMs int64
	bufferedMs int64
	paused     bool
	buffering  bool
	loaded     bool
	errCb      func(error)
	closed     bool
}

const socketWaitAttempts = 50

func newMPV(binary string) (Engine, error) {
	// Randomized socket path, not a predictable name in /tmp
	socketDir, err := os.MkdirTemp("", "medley-mpv-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create mpv socket dir: %w", err)
	}
	socketPath := filepath.Join(socketDir, "socket")

	cmd := exec.Command(binary,
		"--idle=yes",
		"--keep-open=yes",
		"--input-ipc-server="+socketPath,
		"--really-quiet",
	)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(socketDir)
		return nil, fmt.Errorf("failed to start mpv: %w", err)
	}

	conn, err := waitForSocket(socketPath)
	if err != nil {
		cmd.Process.Kill()
		os.RemoveAll(socketDir)
		return nil, err
	}

	m := &mpv{cmd: cmd, conn: conn, socketDir: socketDir}

	observed := []string{"time-pos", "duration", "pause", "paused-for-cache", "demuxer-cache-time"}
	for i, prop := range observed {
		if err := m.command("observe_property", i+1, prop); err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to observe %s: %w", prop, err)
		}
	}

	go m.readEvents()

	log.Debug().Str("socket", socketPath).Msg("mpv engine started")
	return m, nil
}

func waitForSocket(path string) (net.Conn, error) {
	for i := 0; i < socketWaitAttempts; i++ {
		if conn, err := net.Dial("unix", path); err == nil {
			return conn, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("mpv IPC socket did not appear at %s", path)
}

func (m *mpv) Kind() Kind { return KindMPV }

func (m *mpv) command(args ...any) error {
	payload := map[string]any{"command": args}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mpv command: %w", err)
	}
	data = append(data, '\n')

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mpv engine is closed")
	}
	if _, err := m.conn.Write(data); err != nil {
		return fmt.Errorf("mpv command failed: %w", err)
	}
	return nil
}

func (m *mpv) Load(ctx context.Context, url, title string, startMs int64) error {
	opts := "force-media-title=" + sanitizeOption(title)
	if startMs > 0 {
		opts += ",start=" + strconv.FormatFloat(float64(startMs)/1000, 'f', 3, 64)
	}
	if err := m.command("loadfile", url, "replace", opts); err != nil {
		return err
	}

	m.mu.Lock()
	m.loaded = true
	m.positionMs = startMs
	m.paused = false
	m.mu.Unlock()

	return m.command("set_property", "pause", false)
}

func (m *mpv) Play() error {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	return m.command("set_property", "pause", false)
}

func (m *mpv) Pause() error {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	return m.command("set_property", "pause", true)
}

func (m *mpv) SeekTo(ms int64) error {
	return m.command("seek", float64(ms)/1000, "absolute")
}

func (m *mpv) SetSpeed(rate float64) error {
	return m.command("set_property", "speed", rate)
}

func (m *mpv) SetAudioTrack(index int) error {
	if index < 0 {
		return m.command("set_property", "aid", "auto")
	}
	return m.command("set_property", "aid", index+1)
}

func (m *mpv) SetSubtitleTrack(index int) error {
	if index < 0 {
		return m.command("set_property", "sid", "no")
	}
	return m.command("set_property", "sid", index+1)
}

func (m *mpv) CanSwitchTracks() bool { return true }

func (m *mpv) Status() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Status{}, fmt.Errorf("mpv engine is closed")
	}
	return Status{
		PositionMs: m.positionMs,
		DurationMs: m.durationMs,
		BufferedMs: m.bufferedMs,
		Playing:    m.loaded && !m.paused && !m.buffering,
		Buffering:  m.buffering,
	}, nil
}

func (m *mpv) OnError(fn func(error)) {
	m.mu.Lock()
	m.errCb = fn
	m.mu.Unlock()
}

func (m *mpv) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.conn.Close()
	if m.cmd.Process != nil {
		m.cmd.Process.Kill()
	}
	m.cmd.Wait()
	os.RemoveAll(m.socketDir)
	return nil
}

type mpvEvent struct {
	Event     string          `json:"event"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Reason    string          `json:"reason"`
	FileError string          `json:"file_error"`
}

// decodeFailureMarkers are file_error fragments that indicate the media
// itself could not be decoded, as opposed to transport or filesystem
// failures. These trigger engine failover rather than a plain error.
var decodeFailureMarkers = []string{
	"decod",
	"unsupported",
	"unrecognized",
	"no video",
	"no audio",
	"format",
	"codec",
}

// endFileError translates an mpv end-file error event. Decode failures come
// back as *DecodeError so the session can fail over; anything else (network
// drops, missing files) surfaces as a regular error.
func endFileError(fileError string) error {
	if fileError == "" {
		return &DecodeError{Engine: KindMPV, Reason: "playback aborted"}
	}
	lower := strings.ToLower(fileError)
	for _, marker := range decodeFailureMarkers {
		if strings.Contains(lower, marker) {
			return &DecodeError{Engine: KindMPV, Reason: fileError}
		}
	}
	return fmt.Errorf("mpv playback failed: %s", fileError)
}

func (m *mpv) readEvents() {
	scanner := bufio.NewScanner(m.conn)
	for scanner.Scan() {
		var ev mpvEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}

		switch ev.Event {
		case "property-change":
			m.applyProperty(&ev)
		case "end-file":
			if ev.Reason == "error" {
				m.reportError(endFileError(ev.FileError))
			}
		}
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if !closed {
		m.reportError(fmt.Errorf("mpv IPC connection lost"))
	}
}

func (m *mpv) applyProperty(ev *mpvEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Name {
	case "time-pos":
		if v, ok := rawFloat(ev.Data); ok {
			m.positionMs = int64(v * 1000)
		}
	case "duration":
		if v, ok := rawFloat(ev.Data); ok {
			m.durationMs = int64(v * 1000)
		}
	case "demuxer-cache-time":
		if v, ok := rawFloat(ev.Data); ok {
			m.bufferedMs = int64(v * 1000)
		}
	case "pause":
		if v, ok := rawBool(ev.Data); ok {
			m.paused = v
		}
	case "paused-for-cache":
		if v, ok := rawBool(ev.Data); ok {
			m.buffering = v
		}
	}
}

func (m *mpv) reportError(err error) {
	m.mu.Lock()
	cb := m.errCb
	m.mu.Unlock()
	if cb != nil {
		cb(err)
	} else {
		log.Warn().Err(err).Msg("mpv engine error with no handler")
	}
}

func rawFloat(data json.RawMessage) (float64, bool) {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, false
	}
	return v, true
}

func rawBool(data json.RawMessage) (bool, bool) {
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return false, false
	}
	return v, true
}

// sanitizeOption strips characters that would break mpv's comma-separated
// loadfile option list
func sanitizeOption(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == ',' || r == '=' || r == '\n' {
			r = ' '
		}
		out = append(out, r)
	}
	return string(out)
}
