package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medleyhq/medley/internal/catalog"
	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/engine"
	"github.com/medleyhq/medley/internal/servers"
	"github.com/medleyhq/medley/internal/source"
	"github.com/medleyhq/medley/internal/tracks"
)

type loadCall struct {
	url     string
	startMs int64
}

type fakeEngine struct {
	kind      engine.Kind
	canSwitch bool

	mu       sync.Mutex
	loads    []loadCall
	audioIdx int
	subIdx   int
	status   engine.Status
	errCb    func(error)
	closed   bool
}

func (f *fakeEngine) Kind() engine.Kind { return f.kind }

func (f *fakeEngine) Load(_ context.Context, url, _ string, startMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, loadCall{url: url, startMs: startMs})
	f.status = engine.Status{PositionMs: startMs, Playing: true}
	return nil
}

func (f *fakeEngine) Play() error  { return nil }
func (f *fakeEngine) Pause() error { return nil }

func (f *fakeEngine) SeekTo(ms int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.PositionMs = ms
	return nil
}

func (f *fakeEngine) SetSpeed(float64) error { return nil }

func (f *fakeEngine) SetAudioTrack(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioIdx = index
	return nil
}

func (f *fakeEngine) SetSubtitleTrack(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subIdx = index
	return nil
}

func (f *fakeEngine) CanSwitchTracks() bool { return f.canSwitch }

func (f *fakeEngine) Status() (engine.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeEngine) OnError(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errCb = fn
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeEngine) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakeEngine) lastLoad() loadCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[len(f.loads)-1]
}

func (f *fakeEngine) raise(err error) {
	f.mu.Lock()
	cb := f.errCb
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

type fakeFactory struct {
	mu          sync.Mutex
	engines     []*fakeEngine
	unsupported map[engine.Kind][]string
}

func (f *fakeFactory) New(kind engine.Kind) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	eng := &fakeEngine{kind: kind, canSwitch: true}
	f.engines = append(f.engines, eng)
	return eng, nil
}

func (f *fakeFactory) Supports(kind engine.Kind, codec string) bool {
	for _, c := range f.unsupported[kind] {
		if strings.EqualFold(c, codec) {
			return false
		}
	}
	return true
}

func (f *fakeFactory) latest() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

func detailJSON() map[string]any {
	return map[string]any{
		"Id":             "m1",
		"Name":           "Heat",
		"Type":           "Movie",
		"ProductionYear": 1995,
		"RunTimeTicks":   int64(170 * 60 * 1000 * 10_000),
		"ProviderIds":    map[string]string{"Imdb": "tt0113277"},
		"MediaSources": []map[string]any{
			{
				"Id":        "m1-src",
				"Container": "mkv",
				"MediaStreams": []map[string]any{
					{"Type": "Video", "Codec": "hevc", "Index": 0, "Height": 1080, "Width": 1920},
					{"Type": "Audio", "Codec": "ac3", "Index": 1, "Language": "en", "IsDefault": true},
					{"Type": "Audio", "Codec": "ac3", "Index": 2, "Language": "fr"},
					{"Type": "Subtitle", "Codec": "srt", "Index": 3, "Language": "en"},
				},
			},
		},
	}
}

type testEnv struct {
	db      *database.DB
	session *Session
	factory *fakeFactory
	backend *httptest.Server
	srvID   int64
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvDelay(t, 0)
}

// newTestEnvDelay stalls the backend detail endpoint so tests can interleave
// other calls with an in-flight load.
func newTestEnvDelay(t *testing.T, detailDelay time.Duration) *testEnv {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/Items":
			if detailDelay > 0 {
				time.Sleep(detailDelay)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"Items": []map[string]any{detailJSON()},
			})
		case strings.HasSuffix(r.URL.Path, "/DefaultStreams"),
			r.URL.Path == "/Sessions/Playing/Progress":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(backend.Close)

	db, err := database.New(filepath.Join(t.TempDir(), "medley.db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv := &database.Server{
		Name: "main", Type: database.ServerTypeJellyfin,
		URL: backend.URL, APIKey: "key", Enabled: true,
	}
	if err := db.CreateServer(srv); err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	mgr := servers.NewManager(db)
	cat := catalog.NewStore(db, mgr)
	loader := config.NewLoader(db)
	resolver := source.NewResolver(cat, mgr, loader)
	factory := &fakeFactory{unsupported: map[engine.Kind][]string{}}

	session := NewSession(db, cat, mgr, resolver, factory, loader)
	t.Cleanup(func() { session.Close() })

	return &testEnv{db: db, session: session, factory: factory, backend: backend, srvID: srv.ID}
}

func TestLoadDirectPlay(t *testing.T) {
	env := newTestEnv(t)

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	st := env.session.State()
	if st.Phase != StateReady {
		t.Fatalf("expected ready, got %s", st.Phase)
	}
	if !st.DirectPlay {
		t.Error("expected direct play at maximum quality")
	}
	if st.Title != "Heat" {
		t.Errorf("unexpected title %q", st.Title)
	}

	eng := env.factory.latest()
	if eng == nil || eng.loadCount() != 1 {
		t.Fatal("expected one engine load")
	}
	if !strings.Contains(eng.lastLoad().url, "static=true") {
		t.Errorf("expected direct stream URL, got %s", eng.lastLoad().url)
	}
}

func TestLoadTranscode(t *testing.T) {
	env := newTestEnv(t)
	if err := env.db.SetSetting(config.KeyQuality, "high"); err != nil {
		t.Fatal(err)
	}
	if err := env.db.SetSetting(config.KeyBitrate, "4000000"); err != nil {
		t.Fatal(err)
	}

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	st := env.session.State()
	if st.DirectPlay {
		t.Error("expected transcode")
	}

	u := env.factory.latest().lastLoad().url
	if !strings.Contains(u, "main.m3u8") {
		t.Errorf("expected transcode URL, got %s", u)
	}
	if !strings.Contains(u, "videoBitrate=4000000") {
		t.Errorf("expected bitrate in URL, got %s", u)
	}
}

func TestLoadDetailFetchError(t *testing.T) {
	env := newTestEnv(t)

	err := env.session.Load(context.Background(), env.srvID, "missing-from-catalog", nil)
	_ = err

	// The backend returns the canned item regardless of id, so point the
	// session at a dead server instead
	dead := &database.Server{
		Name: "dead", Type: database.ServerTypeJellyfin,
		URL: "http://127.0.0.1:1", APIKey: "key", Enabled: true,
	}
	if err := env.db.CreateServer(dead); err != nil {
		t.Fatal(err)
	}

	err = env.session.Load(context.Background(), dead.ID, "m9", nil)
	if err == nil {
		t.Fatal("expected load error")
	}
	st := env.session.State()
	if st.Phase != StateError {
		t.Errorf("expected error state, got %s", st.Phase)
	}
}

func TestCodecIncompatibilitySwitchesEngineBeforeLoad(t *testing.T) {
	env := newTestEnv(t)
	env.factory.unsupported[engine.KindMPV] = []string{"hevc"}

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	st := env.session.State()
	if st.Engine != engine.KindVLC {
		t.Errorf("expected fallback engine, got %s", st.Engine)
	}
	if got := env.factory.latest().kind; got != engine.KindVLC {
		t.Errorf("expected vlc engine instance, got %s", got)
	}
	// Only the compatible engine ever received a URL
	if len(env.factory.engines) != 1 {
		t.Errorf("expected a single engine instance, got %d", len(env.factory.engines))
	}
}

func TestDecodeErrorFailsOver(t *testing.T) {
	env := newTestEnv(t)

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	first := env.factory.latest()
	first.mu.Lock()
	first.status.PositionMs = 30_000
	first.mu.Unlock()
	env.session.tickPosition()

	first.raise(&engine.DecodeError{Engine: engine.KindMPV, Reason: "hwdec failed"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng := env.factory.latest(); eng != first && eng.loadCount() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	eng := env.factory.latest()
	if eng == first {
		t.Fatal("expected a new engine instance after failover")
	}
	if eng.kind != engine.KindVLC {
		t.Errorf("expected fallback engine, got %s", eng.kind)
	}
	if got := eng.lastLoad().startMs; got != 30_000 {
		t.Errorf("expected resume from 30000ms, got %d", got)
	}
	if !first.closed {
		t.Error("failed engine was not released")
	}
}

func TestNonDecodeErrorSurfacesWithoutClosing(t *testing.T) {
	env := newTestEnv(t)

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	env.factory.latest().raise(fmt.Errorf("network stall"))

	st := env.session.State()
	if st.Phase != StateError {
		t.Errorf("expected error state, got %s", st.Phase)
	}
	if env.factory.latest().closed {
		t.Error("engine must stay open for retry")
	}
}

func TestTrackChangeDirectPlayInPlace(t *testing.T) {
	env := newTestEnv(t)

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	eng := env.factory.latest()
	loadsBefore := eng.loadCount()

	french := env.session.AudioTracks()[1]
	if err := env.session.SelectAudioTrack(context.Background(), french.ID); err != nil {
		t.Fatalf("track change failed: %v", err)
	}

	if eng.loadCount() != loadsBefore {
		t.Error("direct-play track change must not reload")
	}
	if eng.audioIdx != 1 {
		t.Errorf("expected engine audio ordinal 1, got %d", eng.audioIdx)
	}
	if st := env.session.State(); st.Audio == nil || st.Audio.ID != french.ID {
		t.Errorf("state audio not updated: %+v", st.Audio)
	}

	pref, err := env.db.GetTrackPreference("m1", env.srvID)
	if err != nil || pref == nil {
		t.Fatalf("expected persisted preference, err=%v", err)
	}
	if pref.AudioStreamID != french.ID {
		t.Errorf("persisted audio %d, want %d", pref.AudioStreamID, french.ID)
	}
}

func TestTrackChangeTranscodeReloads(t *testing.T) {
	env := newTestEnv(t)
	if err := env.db.SetSetting(config.KeyQuality, "high"); err != nil {
		t.Fatal(err)
	}

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	eng := env.factory.latest()
	loadsBefore := eng.loadCount()

	french := env.session.AudioTracks()[1]
	if err := env.session.SelectAudioTrack(context.Background(), french.ID); err != nil {
		t.Fatalf("track change failed: %v", err)
	}

	if eng.loadCount() != loadsBefore+1 {
		t.Fatal("transcoded track change must reload")
	}
	if !strings.Contains(eng.lastLoad().url, fmt.Sprintf("audioStreamIndex=%d", french.Index)) {
		t.Errorf("reload URL missing new audio index: %s", eng.lastLoad().url)
	}
}

func TestSubtitleOff(t *testing.T) {
	env := newTestEnv(t)

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := env.session.SelectSubtitleTrack(context.Background(), tracks.Off.ID); err != nil {
		t.Fatalf("subtitle off failed: %v", err)
	}

	if st := env.session.State(); !st.Subtitle.IsOff() {
		t.Errorf("expected subtitles off, got %+v", st.Subtitle)
	}
	if env.factory.latest().subIdx != -1 {
		t.Errorf("engine subtitle not disabled: %d", env.factory.latest().subIdx)
	}
	pref, _ := env.db.GetTrackPreference("m1", env.srvID)
	if pref == nil || pref.SubtitleStreamID != tracks.Off.ID {
		t.Errorf("persisted preference should record subtitles off: %+v", pref)
	}
}

func TestAutoAdvanceLatchesOnce(t *testing.T) {
	env := newTestEnv(t)

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	env.session.mu.Lock()
	env.session.state.Next = &NextItem{ServerID: env.srvID, ItemID: "m2", Title: "Heat 2"}
	env.session.state.DurationMs = 100_000
	env.session.mu.Unlock()

	eng := env.factory.latest()
	eng.mu.Lock()
	eng.status = engine.Status{PositionMs: 95_000, DurationMs: 100_000, Playing: true}
	eng.mu.Unlock()

	env.session.tickPosition()
	if !env.session.State().AutoAdvancePending {
		t.Fatal("expected auto-advance to fire at 95%")
	}

	env.session.DismissAutoAdvance()
	env.session.tickPosition()
	env.session.tickPosition()
	if env.session.State().AutoAdvancePending {
		t.Error("auto-advance re-fired after dismissal")
	}
}

func TestCloseReleasesEngine(t *testing.T) {
	env := newTestEnv(t)

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	eng := env.factory.latest()

	if err := env.session.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !eng.closed {
		t.Error("engine not released on close")
	}
	if st := env.session.State(); st.Phase != StateClosed {
		t.Errorf("expected closed state, got %s", st.Phase)
	}

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != ErrSessionClosed {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestCloseDuringLoadReleasesEngine(t *testing.T) {
	env := newTestEnvDelay(t, 300*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- env.session.Load(context.Background(), env.srvID, "m1", nil)
	}()

	time.Sleep(100 * time.Millisecond)
	if err := env.session.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	<-done

	env.factory.mu.Lock()
	engines := append([]*fakeEngine(nil), env.factory.engines...)
	env.factory.mu.Unlock()
	for i, eng := range engines {
		if !eng.isClosed() {
			t.Errorf("engine %d left running after close", i)
		}
		if eng.loadCount() != 0 {
			t.Errorf("engine %d received a stream after close", i)
		}
	}
	if st := env.session.State(); st.Phase != StateClosed {
		t.Errorf("expected closed state, got %s", st.Phase)
	}
}

func TestStateListener(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	var phases []SessionState
	env.session.Subscribe(func(st State) {
		mu.Lock()
		phases = append(phases, st.Phase)
		mu.Unlock()
	})

	if err := env.session.Load(context.Background(), env.srvID, "m1", nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	env.session.tickPosition()

	mu.Lock()
	defer mu.Unlock()
	if len(phases) < 3 || phases[0] != StateLoading || phases[len(phases)-1] != StatePlaying {
		t.Errorf("unexpected phase sequence %v", phases)
	}
	if phases[len(phases)-2] != StateReady {
		t.Errorf("expected ready before playing, got %v", phases)
	}
}
