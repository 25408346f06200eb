package servers

import (
	"testing"
)

func wsSession(id, itemID string, positionMs int64, paused bool) mediaBrowserWSSession {
	var ss mediaBrowserWSSession
	ss.ID = id
	ss.NowPlayingItem.ID = itemID
	ss.PlayState.PositionTicks = positionMs * ticksPerMs
	ss.PlayState.IsPaused = paused
	return ss
}

func TestProgressMapperPlayingAndPaused(t *testing.T) {
	m := newProgressMapper(7)

	events := m.update([]mediaBrowserWSSession{
		wsSession("s1", "m1", 30_000, false),
		wsSession("s2", "m2", 5_000, true),
		wsSession("s3", "", 0, false),
	})
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if events[0].State != "playing" || events[0].ItemID != "m1" || events[0].PositionMs != 30_000 {
		t.Errorf("unexpected playing event %+v", events[0])
	}
	if events[1].State != "paused" || events[1].ItemID != "m2" {
		t.Errorf("unexpected paused event %+v", events[1])
	}
	if events[0].ServerID != 7 {
		t.Errorf("event carries server %d", events[0].ServerID)
	}
}

func TestProgressMapperStopOnDisappearance(t *testing.T) {
	m := newProgressMapper(1)

	m.update([]mediaBrowserWSSession{wsSession("s1", "m1", 30_000, false)})
	events := m.update(nil)

	if len(events) != 1 {
		t.Fatalf("expected a stop event, got %+v", events)
	}
	if events[0].State != "stopped" || events[0].ItemID != "m1" {
		t.Errorf("unexpected stop event %+v", events[0])
	}
	if events[0].PositionMs != 30_000 {
		t.Errorf("stop lost last known position: %+v", events[0])
	}

	// A stop is reported once
	if events := m.update(nil); len(events) != 0 {
		t.Errorf("stop re-reported: %+v", events)
	}
}

func TestProgressMapperStopOnClearedItem(t *testing.T) {
	m := newProgressMapper(1)

	m.update([]mediaBrowserWSSession{wsSession("s1", "m1", 10_000, false)})
	events := m.update([]mediaBrowserWSSession{wsSession("s1", "", 0, false)})

	if len(events) != 1 || events[0].State != "stopped" || events[0].ItemID != "m1" {
		t.Fatalf("expected stop for cleared item, got %+v", events)
	}
}

func TestProgressMapperStopOnItemChange(t *testing.T) {
	m := newProgressMapper(1)

	m.update([]mediaBrowserWSSession{wsSession("s1", "e1", 2_500_000, false)})
	events := m.update([]mediaBrowserWSSession{wsSession("s1", "e2", 0, false)})

	if len(events) != 2 {
		t.Fatalf("expected stop+play events, got %+v", events)
	}
	if events[0].State != "stopped" || events[0].ItemID != "e1" {
		t.Errorf("unexpected first event %+v", events[0])
	}
	if events[1].State != "playing" || events[1].ItemID != "e2" {
		t.Errorf("unexpected second event %+v", events[1])
	}
}
