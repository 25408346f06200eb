package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// vlc runs a persistent VLC process controlled over its RC (remote control)
// interface on a loopback TCP port. The RC protocol is line-oriented and
// synchronous, so every command holds the connection lock.
type vlc struct {
	cmd  *exec.Cmd
	conn net.Conn
	rd   *bufio.Reader

	mu     sync.Mutex
	loaded bool
	paused bool
	errCb  func(error)
	closed bool

	procDone chan struct{}
}

func newVLC(binary string) (Engine, error) {
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to pick VLC RC port: %w", err)
	}
	host := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	cmd := exec.Command(binary,
		"--intf", "rc",
		"--rc-host", host,
		"--no-video-title-show",
		"--quiet",
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start vlc: %w", err)
	}

	conn, err := waitForTCP(host)
	if err != nil {
		cmd.Process.Kill()
		return nil, err
	}

	v := &vlc{cmd: cmd, conn: conn, rd: bufio.NewReader(conn), procDone: make(chan struct{})}
	go v.superviseProcess()
	log.Debug().Str("host", host).Msg("vlc engine started")
	return v, nil
}

// superviseProcess owns the process wait. An exit before Close means the RC
// connection is gone, which has to reach the session as an async error.
func (v *vlc) superviseProcess() {
	err := v.cmd.Wait()
	close(v.procDone)

	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return
	}
	if err != nil {
		v.report(fmt.Errorf("vlc process exited: %w", err))
	} else {
		v.report(fmt.Errorf("vlc process exited unexpectedly"))
	}
}

// report delivers an asynchronous failure to the registered callback. Must
// not be called with v.mu held; the callback may close the engine.
func (v *vlc) report(err error) {
	v.mu.Lock()
	cb := v.errCb
	v.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// rcFailureError maps an asynchronous RC status line to an error. Lines with
// no failure indication return nil.
func rcFailureError(line string) error {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "cannot open"),
		strings.Contains(lower, "could not decode"),
		strings.Contains(lower, "codec not supported"),
		strings.Contains(lower, "undecodable"):
		return &DecodeError{Engine: KindVLC, Reason: strings.TrimSpace(line)}
	}
	return nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitForTCP(host string) (net.Conn, error) {
	for i := 0; i < socketWaitAttempts; i++ {
		if conn, err := net.Dial("tcp", host); err == nil {
			return conn, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("vlc RC interface did not come up at %s", host)
}

func (v *vlc) Kind() Kind { return KindVLC }

// send writes one RC command. The RC interface echoes prompts and status
// lines asynchronously; callers that need a value use query instead.
func (v *vlc) send(cmd string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sendLocked(cmd)
}

func (v *vlc) sendLocked(cmd string) error {
	if v.closed {
		return fmt.Errorf("vlc engine is closed")
	}
	if _, err := fmt.Fprintf(v.conn, "%s\n", cmd); err != nil {
		return fmt.Errorf("vlc command %q failed: %w", cmd, err)
	}
	return nil
}

// query sends a command and parses the first integer in the response
func (v *vlc) query(cmd string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.sendLocked(cmd); err != nil {
		return 0, err
	}

	v.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer v.conn.SetReadDeadline(time.Time{})

	for {
		line, err := v.rd.ReadString('\n')
		if err != nil {
			if !v.closed && !errors.Is(err, os.ErrDeadlineExceeded) {
				// v.mu is held here, so dispatch off-thread
				if cb := v.errCb; cb != nil {
					go cb(fmt.Errorf("vlc RC connection lost: %w", err))
				}
			}
			return 0, fmt.Errorf("vlc query %q failed: %w", cmd, err)
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, ">"))
		if line == "" {
			continue
		}
		if ferr := rcFailureError(line); ferr != nil {
			if cb := v.errCb; cb != nil {
				go cb(ferr)
			}
			continue
		}
		if n, err := strconv.ParseInt(strings.Fields(line)[0], 10, 64); err == nil {
			return n, nil
		}
	}
}

func (v *vlc) Load(ctx context.Context, url, title string, startMs int64) error {
	if err := v.send("clear"); err != nil {
		return err
	}
	if err := v.send("add " + url); err != nil {
		return err
	}

	v.mu.Lock()
	v.loaded = true
	v.paused = false
	v.mu.Unlock()

	if startMs > 0 {
		// The stream needs a moment before seeking lands
		time.Sleep(500 * time.Millisecond)
		return v.SeekTo(startMs)
	}
	return nil
}

func (v *vlc) Play() error {
	v.mu.Lock()
	wasPaused := v.paused
	v.paused = false
	v.mu.Unlock()

	// RC "pause" is a toggle
	if wasPaused {
		return v.send("pause")
	}
	return nil
}

func (v *vlc) Pause() error {
	v.mu.Lock()
	wasPaused := v.paused
	v.paused = true
	v.mu.Unlock()

	if !wasPaused {
		return v.send("pause")
	}
	return nil
}

func (v *vlc) SeekTo(ms int64) error {
	return v.send(fmt.Sprintf("seek %d", ms/1000))
}

func (v *vlc) SetSpeed(rate float64) error {
	return v.send(fmt.Sprintf("rate %.2f", rate))
}

func (v *vlc) SetAudioTrack(index int) error {
	return v.send(fmt.Sprintf("atrack %d", index))
}

func (v *vlc) SetSubtitleTrack(index int) error {
	if index < 0 {
		return v.send("strack -1")
	}
	return v.send(fmt.Sprintf("strack %d", index))
}

func (v *vlc) CanSwitchTracks() bool { return true }

func (v *vlc) Status() (Status, error) {
	posSec, err := v.query("get_time")
	if err != nil {
		return Status{}, err
	}
	durSec, err := v.query("get_length")
	if err != nil {
		return Status{}, err
	}
	playing, err := v.query("is_playing")
	if err != nil {
		return Status{}, err
	}

	v.mu.Lock()
	paused := v.paused
	v.mu.Unlock()

	return Status{
		PositionMs: posSec * 1000,
		DurationMs: durSec * 1000,
		Playing:    playing == 1 && !paused,
	}, nil
}

func (v *vlc) OnError(fn func(error)) {
	v.mu.Lock()
	v.errCb = fn
	v.mu.Unlock()
}

func (v *vlc) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	fmt.Fprintf(v.conn, "quit\n")
	v.conn.Close()
	if v.cmd.Process != nil {
		v.cmd.Process.Kill()
	}
	<-v.procDone
	return nil
}
