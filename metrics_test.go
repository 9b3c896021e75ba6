package go_fvm

import (
	"sync"
	"testing"
)

// TestInMemoryMetrics tests counting and snapshotting
func TestInMemoryMetrics(t *testing.T) {
	m := NewInMemoryMetrics()

	m.IncrementFreshnessRequest("tx", FreshnessValue)
	m.IncrementFreshnessRequest("tx", FreshnessValue)
	m.IncrementFreshnessRequest("rx", FreshnessCrChallenge)
	m.IncrementFreshnessRequest("sideways", FreshnessValue)
	m.IncrementFreshnessRequest("tx", FreshnessType(42))
	m.IncrementVerification(true)
	m.IncrementVerification(false)
	m.IncrementError("GeneralError")
	m.IncrementChallenge("outgoing")
	m.IncrementPublish(sigUnauth, true)
	m.IncrementPublish(sigUnauth, false)
	m.SetFreshnessValueValid(true)
	m.SetParticipantState("Idle")
	m.RecordJitter(-20)
	m.RecordJitter(10)

	if m.TxRequests(FreshnessValue) != 2 || m.RxRequests(FreshnessCrChallenge) != 1 {
		t.Errorf("requests = %d/%d", m.TxRequests(FreshnessValue), m.RxRequests(FreshnessCrChallenge))
	}
	if m.TxRequests(FreshnessType(42)) != 0 {
		t.Error("out of range type counted")
	}
	count, last, lo, hi := m.Jitter()
	if count != 2 || last != 10 || lo != -20 || hi != 10 {
		t.Errorf("Jitter() = %d %d %d %d", count, last, lo, hi)
	}

	s := m.Snapshot()
	if s.TxRequests["FV"] != 2 || s.RxRequests["CHALLENGE"] != 1 {
		t.Errorf("snapshot requests = %v / %v", s.TxRequests, s.RxRequests)
	}
	if s.VerificationsSucceeded != 1 || s.VerificationsFailed != 1 || s.Errors["GeneralError"] != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.Challenges["outgoing"] != 1 || s.PublishesSucceeded != 1 || s.PublishesFailed != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if !s.FreshnessValueValid || s.ParticipantState != "Idle" || s.JitterSamples != 2 {
		t.Errorf("snapshot = %+v", s)
	}

	m.Reset()
	if s := m.Snapshot(); s.VerificationsSucceeded != 0 || len(s.Errors) != 0 || s.ParticipantState != "" {
		t.Errorf("snapshot after Reset = %+v", s)
	}
}

func TestInMemoryMetricsConcurrent(t *testing.T) {
	m := NewInMemoryMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncrementError("RngError")
				m.IncrementChallenge("server")
				m.RecordJitter(int64(j))
			}
		}()
	}
	wg.Wait()
	if m.Errors("RngError") != 800 || m.Challenges("server") != 800 {
		t.Errorf("counts = %d / %d, want 800", m.Errors("RngError"), m.Challenges("server"))
	}
}

func TestEngineUsesInjectedMetrics(t *testing.T) {
	e, _, _ := newTestEngine(t, RoleServer)
	m := NewInMemoryMetrics()
	e.SetMetrics(m)
	if err := e.Init(); err != nil {
		t.Fatal(err)
	}
	defer e.Deinit()

	if _, err := e.GetTxFreshness(idPlain); err != nil {
		t.Fatal(err)
	}
	if m.TxRequests(FreshnessValue) != 1 || !m.FreshnessValueValid() {
		t.Errorf("injected collector not used: %+v", m.Snapshot())
	}
}
