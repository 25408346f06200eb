package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// File is the static bootstrap configuration read from medley.toml.
// Runtime-tunable values live in the settings table instead; the file only
// carries what the daemon needs before the database is open, plus the engine
// binaries which cannot change without a reload anyway.
type File struct {
	Listen   string         `toml:"listen"`
	Database string         `toml:"database"`
	LogFile  string         `toml:"log_file"`
	Engines  EngineSection  `toml:"engines"`
	Servers  []ServerSeed   `toml:"servers"`
}

// EngineSection configures the two native playback engines
type EngineSection struct {
	MPVBinary string `toml:"mpv_binary"`
	VLCBinary string `toml:"vlc_binary"`
	// UnsupportedCodecs lists codecs each engine cannot decode on this
	// device, keyed by engine name. Consulted before a stream URL is built.
	UnsupportedCodecs map[string][]string `toml:"unsupported_codecs"`
}

// ServerSeed registers a backend on first run; later edits go through the API
type ServerSeed struct {
	Name   string `toml:"name"`
	Type   string `toml:"type"`
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// LoadFile reads and parses the bootstrap configuration
func LoadFile(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	f.applyDefaults()
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.Listen == "" {
		f.Listen = "127.0.0.1:8096"
	}
	if f.Database == "" {
		f.Database = "./medley.db"
	}
	if f.Engines.MPVBinary == "" {
		f.Engines.MPVBinary = "mpv"
	}
	if f.Engines.VLCBinary == "" {
		f.Engines.VLCBinary = "vlc"
	}
}

// FileWatcher re-reads the bootstrap file when it changes on disk and hands
// the parsed result to a callback. Editors replace files on save, so both
// write and create events are debounced into one reload.
type FileWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	onSet   func(*File)

	pendingMu sync.Mutex
	pending   *time.Timer

	done chan struct{}
	once sync.Once
}

const reloadDebounce = 500 * time.Millisecond

// WatchFile starts watching the config file directory for changes
func WatchFile(path string, onReload func(*File)) (*FileWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors rename over the file, which drops the
	// watch when the file itself is watched.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}

	w := &FileWatcher{
		path:    path,
		watcher: fsWatcher,
		onSet:   onReload,
		done:    make(chan struct{}),
	}
	go w.run()

	log.Debug().Str("path", path).Msg("Config file watcher started")
	return w, nil
}

func (w *FileWatcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *FileWatcher) scheduleReload() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *FileWatcher) reload() {
	if _, err := os.Stat(w.path); err != nil {
		return
	}
	f, err := LoadFile(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("Config reload failed, keeping previous configuration")
		return
	}
	log.Info().Str("path", w.path).Msg("Config file reloaded")
	w.onSet(f)
}

// Close stops the watcher
func (w *FileWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
