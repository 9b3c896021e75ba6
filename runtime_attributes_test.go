package go_fvm

import (
	"bytes"
	"testing"
)

func newTestAttributes(t *testing.T, cfg *Config) *RuntimeAttributesStore {
	t.Helper()
	acc := NewConfigAccessor(StaticConfigProvider{Config: cfg})
	if err := acc.Init(); err != nil {
		t.Fatalf("ConfigAccessor.Init() error = %v", err)
	}
	s := NewRuntimeAttributesStore()
	s.Init(acc)
	return s
}

// TestRuntimeAttributesInit tests that every configured id gets a record
func TestRuntimeAttributesInit(t *testing.T) {
	s := newTestAttributes(t, testConfig())

	for _, id := range []FreshnessValueId{idPlain, idSessionSender, idSessionReceiver, idChallenge, idResponse} {
		a, ok := s.Snapshot(id)
		if !ok {
			t.Fatalf("no record for id %d", id)
		}
		if a.Active {
			t.Errorf("id %d active after Init", id)
		}
	}
	if _, ok := s.Snapshot(idUnknown); ok {
		t.Error("record for unconfigured id")
	}
	if a, _ := s.Snapshot(idSessionSender); a.SessionCounterLength != 1 || len(a.SessionCounter) != 1 {
		t.Errorf("session counter length = %d/%d, want 1", a.SessionCounterLength, len(a.SessionCounter))
	}
}

func TestRuntimeAttributesSetActiveOnce(t *testing.T) {
	s := newTestAttributes(t, testConfig())

	s.SetActive(idPlain, 40)
	s.SetActive(idPlain, 90)
	if !s.IsActive(idPlain) {
		t.Fatal("IsActive() = false")
	}
	if got := s.GetEvent(EventFirstActivity, idPlain); got != 40 {
		t.Errorf("first activity = %d, want 40", got)
	}

	s.SetActive(idUnknown, 1)
	if s.IsActive(idUnknown) {
		t.Error("unconfigured id became active")
	}
}

// TestSessionCounterWraps tests that a one byte counter wraps to zero
func TestSessionCounterWraps(t *testing.T) {
	s := newTestAttributes(t, testConfig())

	for i := 1; i <= 255; i++ {
		next := s.GetNextSessionCounter(idSessionSender)
		got := s.IncSessionCounter(idSessionSender)
		if !bytes.Equal(next, got) {
			t.Fatalf("step %d: GetNextSessionCounter() = %x, IncSessionCounter() = %x", i, next, got)
		}
	}
	if got := s.GetSessionCounter(idSessionSender); !bytes.Equal(got, []byte{0xFF}) {
		t.Fatalf("counter = %x, want ff", got)
	}
	if got := s.IncSessionCounter(idSessionSender); !bytes.Equal(got, []byte{0x00}) {
		t.Errorf("counter after wrap = %x, want 00", got)
	}

	if got := s.IncSessionCounter(idPlain); got != nil {
		t.Errorf("IncSessionCounter() without session counter = %x, want nil", got)
	}
}

func TestMultiByteSessionCounter(t *testing.T) {
	cfg := testConfig()
	cfg.AuthBroadcast[idSessionSender] = BroadcastConfig{Type: FreshnessValueSessionSender, PduID: 101, SessionCounterLength: 2}
	s := newTestAttributes(t, cfg)

	for i := 0; i < 256; i++ {
		s.IncSessionCounter(idSessionSender)
	}
	if got := s.GetSessionCounter(idSessionSender); !bytes.Equal(got, []byte{0x01, 0x00}) {
		t.Errorf("counter = %x, want 0100", got)
	}
}

func TestRuntimeAttributesEvents(t *testing.T) {
	s := newTestAttributes(t, testConfig())

	events := map[EventType]uint64{
		EventSignRequest:   11,
		EventSignSuccess:   12,
		EventVerifyRequest: 13,
		EventVerifySuccess: 14,
		EventFirstActivity: 15,
	}
	for ev, v := range events {
		s.UpdateEvent(ev, idPlain, v)
	}
	for ev, v := range events {
		if got := s.GetEvent(ev, idPlain); got != v {
			t.Errorf("GetEvent(%d) = %d, want %d", ev, got, v)
		}
	}
	s.UpdateEvent(EventSignRequest, idUnknown, 1)
	if got := s.GetEvent(EventSignRequest, idUnknown); got != 0 {
		t.Errorf("GetEvent() for unconfigured id = %d, want 0", got)
	}

	s.Reset()
	if _, ok := s.Snapshot(idPlain); ok {
		t.Error("record survived Reset")
	}
}
