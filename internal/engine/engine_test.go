package engine

import (
	"errors"
	"testing"
)

func TestEndFileErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		fileError string
		decode    bool
	}{
		{"empty defaults to decode", "", true},
		{"codec failure", "Failed to initialize a decoder", true},
		{"unsupported format", "unsupported pixel format", true},
		{"unrecognized container", "unrecognized file format", true},
		{"network drop", "Connection reset by peer", false},
		{"http failure", "HTTP error 503 Service Unavailable", false},
		{"missing file", "No such file or directory", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := endFileError(tc.fileError)
			if err == nil {
				t.Fatal("expected an error")
			}
			var decodeErr *DecodeError
			if got := errors.As(err, &decodeErr); got != tc.decode {
				t.Fatalf("endFileError(%q) decode=%v, want %v", tc.fileError, got, tc.decode)
			}
			if tc.decode && decodeErr.Engine != KindMPV {
				t.Errorf("decode error attributed to %s", decodeErr.Engine)
			}
		})
	}
}

func TestRCFailureErrorClassification(t *testing.T) {
	if err := rcFailureError("status change: ( new input: http://x/stream )"); err != nil {
		t.Errorf("status line misread as failure: %v", err)
	}
	if err := rcFailureError("1"); err != nil {
		t.Errorf("numeric reply misread as failure: %v", err)
	}

	err := rcFailureError("main input error: cannot open stream")
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected decode error for open failure, got %v", err)
	}
	if decodeErr.Engine != KindVLC {
		t.Errorf("decode error attributed to %s", decodeErr.Engine)
	}

	if err := rcFailureError("codec not supported: vlc could not decode hevc"); err == nil {
		t.Error("expected decode error for codec failure")
	}
}

func TestFallbackKind(t *testing.T) {
	if Fallback(KindMPV) != KindVLC {
		t.Error("mpv should fall back to vlc")
	}
	if Fallback(KindVLC) != KindMPV {
		t.Error("vlc should fall back to mpv")
	}
}
