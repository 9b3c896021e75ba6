package go_fvm

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// EcuFunction is the SOK role an ECU reports through diagnostics.
type EcuFunction uint8

const (
	EcuFunctionTimeServer  EcuFunction = 0
	EcuFunctionParticipant EcuFunction = 1
)

func (f EcuFunction) String() string {
	if f == EcuFunctionTimeServer {
		return "time-server"
	}
	return "participant"
}

// DiagnosticsStatus is the per-record status written by the engine.
type DiagnosticsStatus uint8

const (
	DiagSuccess DiagnosticsStatus = iota
	DiagVerificationFailed
	DiagSignatureFailed
	DiagGeneralInformation
	DiagMissingKeys
	DiagFailed
)

func (s DiagnosticsStatus) String() string {
	switch s {
	case DiagSuccess:
		return "Success"
	case DiagVerificationFailed:
		return "VerificationFailed"
	case DiagSignatureFailed:
		return "SignatureFailed"
	case DiagGeneralInformation:
		return "GeneralInformation"
	case DiagMissingKeys:
		return "MissingKeys"
	case DiagFailed:
		return "Failed"
	default:
		return fmt.Sprintf("DiagnosticsStatus(%d)", uint8(s))
	}
}

// Diagnostics records the freshness manager's diagnostic data: PDUs whose
// verification failed, responses that could not be signed, missing keys,
// per-id freshness status and the time information. Recording is enabled by
// default and can be switched off at runtime.
type Diagnostics struct {
	mu      sync.RWMutex
	enabled bool

	ecuFunction  EcuFunction
	mainPeriodMs uint64

	verificationFailed map[PduId]uint64
	signatureFailed    map[string]uint64
	missingKeys        map[uint16]struct{}
	freshnessStatus    map[FreshnessValueId]DiagnosticsStatus

	timeValid      bool
	currentSokTime uint64
	jitterExceeded bool
}

// NewDiagnostics creates an enabled recorder.
func NewDiagnostics(fn EcuFunction, mainPeriodMs uint64) *Diagnostics {
	d := &Diagnostics{
		enabled:      true,
		ecuFunction:  fn,
		mainPeriodMs: mainPeriodMs,
	}
	d.resetLocked()
	return d
}

func (d *Diagnostics) resetLocked() {
	d.verificationFailed = make(map[PduId]uint64)
	d.signatureFailed = make(map[string]uint64)
	d.missingKeys = make(map[uint16]struct{})
	d.freshnessStatus = make(map[FreshnessValueId]DiagnosticsStatus)
	d.timeValid = false
	d.currentSokTime = 0
	d.jitterExceeded = false
}

// Enable activates recording.
func (d *Diagnostics) Enable() {
	d.mu.Lock()
	d.enabled = true
	d.mu.Unlock()
}

// Disable deactivates recording. Reads keep returning the last data.
func (d *Diagnostics) Disable() {
	d.mu.Lock()
	d.enabled = false
	d.mu.Unlock()
}

func (d *Diagnostics) IsEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// Reset clears all recorded data.
func (d *Diagnostics) Reset() {
	d.mu.Lock()
	d.resetLocked()
	d.mu.Unlock()
}

func (d *Diagnostics) write(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enabled {
		fn()
	}
}

// SetPduVerificationFailed records a failed verification of a PDU.
func (d *Diagnostics) SetPduVerificationFailed(pdu PduId) {
	d.write(func() { d.verificationFailed[pdu]++ })
}

// SetSignatureFailed records a response that could not be signed or
// published for a client.
func (d *Diagnostics) SetSignatureFailed(client string) {
	d.write(func() { d.signatureFailed[client]++ })
}

// SetMissingKey records a configured key id absent from the crypto service.
func (d *Diagnostics) SetMissingKey(keyID uint16) {
	d.write(func() { d.missingKeys[keyID] = struct{}{} })
}

// SetFreshnessStatus records the last outcome for an id.
func (d *Diagnostics) SetFreshnessStatus(id FreshnessValueId, status DiagnosticsStatus) {
	d.write(func() { d.freshnessStatus[id] = status })
}

// SetTimeInfo records validity and value of the local freshness counter.
func (d *Diagnostics) SetTimeInfo(valid bool, sokTime uint64) {
	d.write(func() {
		d.timeValid = valid
		d.currentSokTime = sokTime
	})
}

// SetJitterExceeded records whether the last broadcast exceeded the jitter
// bound.
func (d *Diagnostics) SetJitterExceeded(exceeded bool) {
	d.write(func() { d.jitterExceeded = exceeded })
}

// DiagnosticsReport is a point-in-time copy of the recorded data.
type DiagnosticsReport struct {
	Enabled            bool                                   `json:"enabled"`
	EcuFunction        string                                 `json:"ecu_function"`
	MainPeriodMs       uint64                                 `json:"main_period_ms"`
	VerificationFailed []PduId                                `json:"verification_failed"`
	SignatureFailed    []string                               `json:"signature_failed"`
	MissingKeys        []uint16                               `json:"missing_keys"`
	FreshnessStatus    map[FreshnessValueId]DiagnosticsStatus `json:"freshness_status"`
	TimeValid          bool                                   `json:"time_valid"`
	CurrentSokTime     uint64                                 `json:"current_sok_time"`
	JitterExceeded     bool                                   `json:"jitter_exceeded"`
}

// Report returns the recorded data with sorted lists.
func (d *Diagnostics) Report() DiagnosticsReport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r := DiagnosticsReport{
		Enabled:            d.enabled,
		EcuFunction:        d.ecuFunction.String(),
		MainPeriodMs:       d.mainPeriodMs,
		VerificationFailed: lo.Keys(d.verificationFailed),
		SignatureFailed:    lo.Keys(d.signatureFailed),
		MissingKeys:        lo.Keys(d.missingKeys),
		FreshnessStatus:    make(map[FreshnessValueId]DiagnosticsStatus, len(d.freshnessStatus)),
		TimeValid:          d.timeValid,
		CurrentSokTime:     d.currentSokTime,
		JitterExceeded:     d.jitterExceeded,
	}
	slices.Sort(r.VerificationFailed)
	slices.Sort(r.SignatureFailed)
	slices.Sort(r.MissingKeys)
	for k, v := range d.freshnessStatus {
		r.FreshnessStatus[k] = v
	}
	return r
}

// VerificationFailures returns how often verification failed for a PDU.
func (d *Diagnostics) VerificationFailures(pdu PduId) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.verificationFailed[pdu]
}

// SignatureFailures returns how often signing a response failed for a client.
func (d *Diagnostics) SignatureFailures(client string) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.signatureFailed[client]
}

// Summary returns a human-readable summary.
func (d *Diagnostics) Summary() string {
	r := d.Report()
	var b strings.Builder
	fmt.Fprintf(&b, "Freshness diagnostics (%s, main period %d ms):\n", r.EcuFunction, r.MainPeriodMs)
	if !r.Enabled {
		b.WriteString("  recording disabled\n")
	}
	fmt.Fprintf(&b, "  time: valid=%t value=%d jitter_exceeded=%t\n", r.TimeValid, r.CurrentSokTime, r.JitterExceeded)
	fmt.Fprintf(&b, "  verification failed pdus: %v\n", r.VerificationFailed)
	fmt.Fprintf(&b, "  signature failed clients: %v\n", r.SignatureFailed)
	fmt.Fprintf(&b, "  missing keys: %v\n", r.MissingKeys)
	return b.String()
}
