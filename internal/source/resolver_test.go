package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medleyhq/medley/internal/catalog"
	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/media"
	"github.com/medleyhq/medley/internal/servers"
)

type fakeBackend struct {
	srv      *httptest.Server
	searches atomic.Int64
	items    []map[string]any
}

func newFakeBackend(t *testing.T, items []map[string]any) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{items: items}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Items":
			if r.URL.Query().Get("searchTerm") != "" {
				fb.searches.Add(1)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"Items":            fb.items,
				"TotalRecordCount": len(fb.items),
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func movieJSON(id, name, imdb string, year int) map[string]any {
	return map[string]any{
		"Id":             id,
		"Name":           name,
		"Type":           "Movie",
		"ProductionYear": year,
		"ProviderIds":    map[string]string{"Imdb": imdb},
		"MediaSources": []map[string]any{
			{
				"Id":        id + "-src",
				"Container": "mkv",
				"MediaStreams": []map[string]any{
					{"Type": "Video", "Codec": "hevc", "Index": 0, "Height": 1080, "Width": 1920},
				},
			},
		},
	}
}

type testEnv struct {
	db       *database.DB
	resolver *Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "medley.db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mgr := servers.NewManager(db)
	cat := catalog.NewStore(db, mgr)
	loader := config.NewLoader(db)
	return &testEnv{db: db, resolver: NewResolver(cat, mgr, loader)}
}

func (e *testEnv) addServer(t *testing.T, name, url string) int64 {
	t.Helper()
	s := &database.Server{
		Name:    name,
		Type:    database.ServerTypeJellyfin,
		URL:     url,
		APIKey:  "test-key",
		Enabled: true,
	}
	if err := e.db.CreateServer(s); err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return s.ID
}

func movieItem(serverID int64, id, title, imdb string, year int) media.PlayableItem {
	return media.PlayableItem{
		ServerID:      serverID,
		ID:            id,
		Title:         title,
		Type:          media.ItemMovie,
		Year:          year,
		IMDBID:        imdb,
		UnificationID: imdb,
	}
}

func TestResolveSingleServer(t *testing.T) {
	env := newTestEnv(t)
	id := env.addServer(t, "main", "http://localhost:1")

	item := movieItem(id, "m1", "Heat", "tt0113277", 1995)
	resolved := env.resolver.Resolve(context.Background(), &item)

	if len(resolved.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resolved.Sources))
	}
	if resolved.Sources[0].ServerID != id || resolved.Sources[0].ItemID != "m1" {
		t.Errorf("unexpected source: %+v", resolved.Sources[0])
	}
}

func TestResolveLocalFirst(t *testing.T) {
	env := newTestEnv(t)
	idA := env.addServer(t, "a", "http://localhost:1")
	peer := newFakeBackend(t, nil)
	idB := env.addServer(t, "b", peer.srv.URL)

	// Seed the catalog so resolution needs no network call
	cached := movieItem(idB, "b-m1", "Heat", "tt0113277", 1995)
	if err := env.db.UpsertItem(&cached); err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}

	item := movieItem(idA, "a-m1", "Heat", "tt0113277", 1995)
	resolved := env.resolver.Resolve(context.Background(), &item)

	if len(resolved.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(resolved.Sources))
	}
	if n := peer.searches.Load(); n != 0 {
		t.Errorf("expected no peer searches, got %d", n)
	}
}

func TestResolveNetworkFallback(t *testing.T) {
	env := newTestEnv(t)
	idA := env.addServer(t, "a", "http://localhost:1")
	peer := newFakeBackend(t, []map[string]any{
		movieJSON("b-m1", "Heat", "tt0113277", 1995),
		movieJSON("b-m2", "Heat 2", "tt9999999", 2025),
	})
	idB := env.addServer(t, "b", peer.srv.URL)

	item := movieItem(idA, "a-m1", "Heat", "tt0113277", 1995)
	resolved := env.resolver.Resolve(context.Background(), &item)

	if len(resolved.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(resolved.Sources))
	}
	var peerSource *media.MediaSource
	for i := range resolved.Sources {
		if resolved.Sources[i].ServerID == idB {
			peerSource = &resolved.Sources[i]
		}
	}
	if peerSource == nil {
		t.Fatal("expected a source from server b")
	}
	if peerSource.ItemID != "b-m1" {
		t.Errorf("expected external-id match b-m1, got %s", peerSource.ItemID)
	}
	if peerSource.Resolution != "1080p (HEVC)" {
		t.Errorf("expected enriched resolution, got %q", peerSource.Resolution)
	}
}

func TestResolveNoDuplicateServers(t *testing.T) {
	env := newTestEnv(t)
	idA := env.addServer(t, "a", "http://localhost:1")
	peer := newFakeBackend(t, []map[string]any{
		movieJSON("b-m1", "Heat", "tt0113277", 1995),
	})
	idB := env.addServer(t, "b", peer.srv.URL)

	// A cached peer row plus a network hit for the same server must not
	// produce two sources
	cached := movieItem(idB, "b-m1", "Heat", "tt0113277", 1995)
	if err := env.db.UpsertItem(&cached); err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}

	item := movieItem(idA, "a-m1", "Heat", "tt0113277", 1995)
	resolved := env.resolver.Resolve(context.Background(), &item)

	seen := make(map[int64]bool)
	for _, src := range resolved.Sources {
		if seen[src.ServerID] {
			t.Fatalf("duplicate server %d in sources", src.ServerID)
		}
		seen[src.ServerID] = true
	}
}

func TestResolveCacheIdempotent(t *testing.T) {
	env := newTestEnv(t)
	idA := env.addServer(t, "a", "http://localhost:1")
	peer := newFakeBackend(t, []map[string]any{
		movieJSON("b-m1", "Heat", "tt0113277", 1995),
	})
	env.addServer(t, "b", peer.srv.URL)

	item := movieItem(idA, "a-m1", "Heat", "tt0113277", 1995)
	first := env.resolver.Resolve(context.Background(), &item)
	searchesAfterFirst := peer.searches.Load()

	second := env.resolver.Resolve(context.Background(), &item)
	if peer.searches.Load() != searchesAfterFirst {
		t.Error("repeat resolve issued additional network calls")
	}
	if len(first.Sources) != len(second.Sources) {
		t.Errorf("cached result differs: %d vs %d sources", len(first.Sources), len(second.Sources))
	}
}

func TestResolvePeerFailureIsContained(t *testing.T) {
	env := newTestEnv(t)
	idA := env.addServer(t, "a", "http://localhost:1")
	env.addServer(t, "down", "http://127.0.0.1:1")
	peer := newFakeBackend(t, []map[string]any{
		movieJSON("c-m1", "Heat", "tt0113277", 1995),
	})
	idC := env.addServer(t, "c", peer.srv.URL)

	item := movieItem(idA, "a-m1", "Heat", "tt0113277", 1995)
	resolved := env.resolver.Resolve(context.Background(), &item)

	if len(resolved.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(resolved.Sources))
	}
	found := false
	for _, src := range resolved.Sources {
		if src.ServerID == idC {
			found = true
		}
	}
	if !found {
		t.Error("healthy peer missing from sources")
	}
}

func TestResolveEpisodeStructuralMatch(t *testing.T) {
	env := newTestEnv(t)
	idA := env.addServer(t, "a", "http://localhost:1")
	idB := env.addServer(t, "b", "http://localhost:2")

	// No unification ids on either side; match is show + season + episode
	cached := media.PlayableItem{
		ServerID:     idB,
		ID:           "b-e1",
		Title:        "Pilot",
		Type:         media.ItemEpisode,
		ShowTitle:    "The Wire",
		ParentIndex:  1,
		EpisodeIndex: 1,
	}
	if err := env.db.UpsertItem(&cached); err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}

	item := media.PlayableItem{
		ServerID:     idA,
		ID:           "a-e1",
		Title:        "Pilot",
		Type:         media.ItemEpisode,
		ShowTitle:    "the wire",
		ParentIndex:  1,
		EpisodeIndex: 1,
	}
	resolved := env.resolver.Resolve(context.Background(), &item)

	if len(resolved.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(resolved.Sources))
	}
}

func TestCompositeMatch(t *testing.T) {
	base := movieItem(1, "m1", "Heat", "", 1995)

	cases := []struct {
		name  string
		other media.PlayableItem
		want  bool
	}{
		{"exact", movieItem(2, "m2", "Heat", "", 1995), true},
		{"case insensitive", movieItem(2, "m2", "HEAT", "", 1995), true},
		{"unknown year", movieItem(2, "m2", "Heat", "", 0), true},
		{"wrong year", movieItem(2, "m2", "Heat", "", 1996), false},
		{"wrong title", movieItem(2, "m2", "Heat 2", "", 1995), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := compositeMatch(&base, &tc.other); got != tc.want {
				t.Errorf("compositeMatch = %v, want %v", got, tc.want)
			}
		})
	}

	episode := media.PlayableItem{Title: "Pilot", Type: media.ItemEpisode, ParentIndex: 1, EpisodeIndex: 2}
	wrongEp := media.PlayableItem{Title: "Pilot", Type: media.ItemEpisode, ParentIndex: 1, EpisodeIndex: 3}
	if compositeMatch(&episode, &wrongEp) {
		t.Error("episodes with different indices must not match")
	}
}

func TestSweep(t *testing.T) {
	env := newTestEnv(t)
	id := env.addServer(t, "main", "http://localhost:1")

	for i := 0; i < 3; i++ {
		item := movieItem(id, fmt.Sprintf("m%d", i), "Heat", "tt0113277", 1995)
		env.resolver.Resolve(context.Background(), &item)
	}
	if removed := env.resolver.Sweep(); removed != 0 {
		t.Errorf("expected no expired entries, got %d", removed)
	}

	env.resolver.mu.Lock()
	for key, entry := range env.resolver.cache {
		entry.expires = entry.expires.Add(-24 * time.Hour)
		env.resolver.cache[key] = entry
	}
	env.resolver.mu.Unlock()

	if removed := env.resolver.Sweep(); removed != 3 {
		t.Errorf("expected 3 expired entries, got %d", removed)
	}
}
