package go_fvm

import (
	"strings"
	"testing"
)

// TestSignalTracer tests recording of sent and received signals
func TestSignalTracer(t *testing.T) {
	inner := newRecordingTransport()
	tr := NewSignalTracer(inner)
	sig := testSignal(sigUnauth, 200, 64)

	var delivered int
	if err := tr.Subscribe(sig, func(string, []byte) { delivered++ }); err != nil {
		t.Fatal(err)
	}

	_ = tr.Publish(sig, []byte{1})
	if len(tr.Recent(0)) != 0 {
		t.Error("disabled tracer recorded a signal")
	}
	if tr.Report() != "Signal tracing is disabled" {
		t.Errorf("Report() = %q", tr.Report())
	}

	tr.Enable()
	if !tr.IsEnabled() {
		t.Fatal("IsEnabled() = false")
	}
	_ = tr.Publish(sig, uint64ToBytes(0xABCD))
	inner.deliver(sigUnauth, uint64ToBytes(7))
	inner.fail(sigUnauth, errTransport)
	if err := tr.Publish(sig, []byte{2}); err != errTransport {
		t.Errorf("Publish() = %v, want %v", err, errTransport)
	}

	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	got := tr.Recent(0)
	if len(got) != 3 {
		t.Fatalf("Recent(0) returned %d entries, want 3", len(got))
	}
	if got[0].Direction != "SENT" || got[0].Value != "000000000000abcd" || got[0].PduID != 200 {
		t.Errorf("first entry = %+v", got[0])
	}
	if got[1].Direction != "RECEIVED" || got[1].Size != 8 {
		t.Errorf("second entry = %+v", got[1])
	}
	if got[2].Error == "" {
		t.Errorf("failed publish not recorded as error: %+v", got[2])
	}
	if last := tr.Recent(1); len(last) != 1 || last[0].Error == "" {
		t.Errorf("Recent(1) = %+v", last)
	}

	rep := tr.Report()
	if !strings.Contains(rep, "SOK_Zeit_Unauth") || !strings.Contains(rep, "error=") {
		t.Errorf("Report() = %q", rep)
	}

	tr.Disable()
	_ = tr.Publish(sig, []byte{3})
	if len(tr.Recent(0)) != 3 {
		t.Error("tracer recorded after Disable")
	}
}

func TestSignalTracerBounded(t *testing.T) {
	tr := NewSignalTracer(newRecordingTransport())
	tr.Enable()
	sig := testSignal(sigUnauth, 200, 64)
	for i := 0; i < maxTracedSignals+50; i++ {
		_ = tr.Publish(sig, []byte{byte(i)})
	}
	if n := len(tr.Recent(0)); n != maxTracedSignals {
		t.Errorf("kept %d entries, want %d", n, maxTracedSignals)
	}
}
