package go_fvm

import (
	"maps"
	"sync"
	"sync/atomic"
)

// MetricsCollector receives freshness manager telemetry. Implementations
// plug in Prometheus, StatsD or similar sinks.
//
// All methods are safe for concurrent use and should be non-blocking: they
// are called from the main tick and from transport callbacks.
type MetricsCollector interface {
	// IncrementFreshnessRequest counts GetTxFreshness ("tx") and
	// GetRxFreshness ("rx") calls by type.
	IncrementFreshnessRequest(direction string, fvType FreshnessType)

	// IncrementVerification counts verification outcomes reported by the
	// message-authentication layer.
	IncrementVerification(succeeded bool)

	// IncrementError counts failed operations by ErrorCode name.
	IncrementError(errorType string)

	// IncrementChallenge counts challenges by direction ("outgoing",
	// "incoming", "server").
	IncrementChallenge(direction string)

	// IncrementPublish counts signal publications.
	IncrementPublish(signal string, ok bool)

	// SetFreshnessValueValid tracks whether an authentic value is held.
	SetFreshnessValueValid(valid bool)

	// SetParticipantState tracks the participant synchronisation state.
	SetParticipantState(state string)

	// RecordJitter records a measured deviation against an unauthenticated
	// broadcast in milliseconds.
	RecordJitter(jitterMs int64)
}

// InMemoryMetrics is a MetricsCollector kept in process memory, suitable for
// tests, diagnostics endpoints and applications without a metrics backend.
type InMemoryMetrics struct {
	txRequests [FreshnessCrResponse + 1]uint64
	rxRequests [FreshnessCrResponse + 1]uint64

	verifySucceeded uint64
	verifyFailed    uint64

	errorsMu     sync.RWMutex
	errorsByType map[string]uint64

	challengesMu sync.RWMutex
	challenges   map[string]uint64

	publishOK     uint64
	publishFailed uint64

	fvValid          atomic.Bool
	participantState atomic.Value // string

	jitterMu sync.RWMutex
	jitter   jitterStats
}

type jitterStats struct {
	count   uint64
	last    int64
	minimum int64
	maximum int64
}

// NewInMemoryMetrics creates an empty collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	m := &InMemoryMetrics{
		errorsByType: make(map[string]uint64),
		challenges:   make(map[string]uint64),
	}
	m.participantState.Store("")
	return m
}

func (m *InMemoryMetrics) IncrementFreshnessRequest(direction string, fvType FreshnessType) {
	if fvType > FreshnessCrResponse {
		return
	}
	switch direction {
	case "tx":
		atomic.AddUint64(&m.txRequests[fvType], 1)
	case "rx":
		atomic.AddUint64(&m.rxRequests[fvType], 1)
	}
}

func (m *InMemoryMetrics) IncrementVerification(succeeded bool) {
	if succeeded {
		atomic.AddUint64(&m.verifySucceeded, 1)
		return
	}
	atomic.AddUint64(&m.verifyFailed, 1)
}

func (m *InMemoryMetrics) IncrementError(errorType string) {
	m.errorsMu.Lock()
	m.errorsByType[errorType]++
	m.errorsMu.Unlock()
}

func (m *InMemoryMetrics) IncrementChallenge(direction string) {
	m.challengesMu.Lock()
	m.challenges[direction]++
	m.challengesMu.Unlock()
}

func (m *InMemoryMetrics) IncrementPublish(signal string, ok bool) {
	if ok {
		atomic.AddUint64(&m.publishOK, 1)
		return
	}
	atomic.AddUint64(&m.publishFailed, 1)
}

func (m *InMemoryMetrics) SetFreshnessValueValid(valid bool) {
	m.fvValid.Store(valid)
}

func (m *InMemoryMetrics) SetParticipantState(state string) {
	m.participantState.Store(state)
}

func (m *InMemoryMetrics) RecordJitter(jitterMs int64) {
	m.jitterMu.Lock()
	defer m.jitterMu.Unlock()
	if m.jitter.count == 0 {
		m.jitter.minimum = jitterMs
		m.jitter.maximum = jitterMs
	}
	m.jitter.count++
	m.jitter.last = jitterMs
	m.jitter.minimum = min(m.jitter.minimum, jitterMs)
	m.jitter.maximum = max(m.jitter.maximum, jitterMs)
}

// TxRequests returns the GetTxFreshness count for a type.
func (m *InMemoryMetrics) TxRequests(fvType FreshnessType) uint64 {
	if fvType > FreshnessCrResponse {
		return 0
	}
	return atomic.LoadUint64(&m.txRequests[fvType])
}

// RxRequests returns the GetRxFreshness count for a type.
func (m *InMemoryMetrics) RxRequests(fvType FreshnessType) uint64 {
	if fvType > FreshnessCrResponse {
		return 0
	}
	return atomic.LoadUint64(&m.rxRequests[fvType])
}

func (m *InMemoryMetrics) VerificationsSucceeded() uint64 {
	return atomic.LoadUint64(&m.verifySucceeded)
}

func (m *InMemoryMetrics) VerificationsFailed() uint64 {
	return atomic.LoadUint64(&m.verifyFailed)
}

// Errors returns the count for one error type.
func (m *InMemoryMetrics) Errors(errorType string) uint64 {
	m.errorsMu.RLock()
	defer m.errorsMu.RUnlock()
	return m.errorsByType[errorType]
}

// AllErrors returns a copy of all error counts.
func (m *InMemoryMetrics) AllErrors() map[string]uint64 {
	m.errorsMu.RLock()
	defer m.errorsMu.RUnlock()
	return maps.Clone(m.errorsByType)
}

// Challenges returns the challenge count for a direction.
func (m *InMemoryMetrics) Challenges(direction string) uint64 {
	m.challengesMu.RLock()
	defer m.challengesMu.RUnlock()
	return m.challenges[direction]
}

func (m *InMemoryMetrics) PublishesSucceeded() uint64 { return atomic.LoadUint64(&m.publishOK) }
func (m *InMemoryMetrics) PublishesFailed() uint64    { return atomic.LoadUint64(&m.publishFailed) }

func (m *InMemoryMetrics) FreshnessValueValid() bool { return m.fvValid.Load() }

func (m *InMemoryMetrics) ParticipantState() string {
	return m.participantState.Load().(string)
}

// Jitter returns the number of samples and the last, smallest and largest
// recorded jitter.
func (m *InMemoryMetrics) Jitter() (count uint64, last, minimum, maximum int64) {
	m.jitterMu.RLock()
	defer m.jitterMu.RUnlock()
	return m.jitter.count, m.jitter.last, m.jitter.minimum, m.jitter.maximum
}

// MetricsSnapshot is a point-in-time copy of InMemoryMetrics.
type MetricsSnapshot struct {
	TxRequests             map[string]uint64 `json:"tx_requests"`
	RxRequests             map[string]uint64 `json:"rx_requests"`
	VerificationsSucceeded uint64            `json:"verifications_succeeded"`
	VerificationsFailed    uint64            `json:"verifications_failed"`
	Errors                 map[string]uint64 `json:"errors"`
	Challenges             map[string]uint64 `json:"challenges"`
	PublishesSucceeded     uint64            `json:"publishes_succeeded"`
	PublishesFailed        uint64            `json:"publishes_failed"`
	FreshnessValueValid    bool              `json:"freshness_value_valid"`
	ParticipantState       string            `json:"participant_state,omitempty"`
	JitterSamples          uint64            `json:"jitter_samples"`
	JitterLastMs           int64             `json:"jitter_last_ms"`
}

// Snapshot copies every counter.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		TxRequests:             make(map[string]uint64),
		RxRequests:             make(map[string]uint64),
		VerificationsSucceeded: m.VerificationsSucceeded(),
		VerificationsFailed:    m.VerificationsFailed(),
		Errors:                 m.AllErrors(),
		PublishesSucceeded:     m.PublishesSucceeded(),
		PublishesFailed:        m.PublishesFailed(),
		FreshnessValueValid:    m.FreshnessValueValid(),
		ParticipantState:       m.ParticipantState(),
	}
	for t := FreshnessValue; t <= FreshnessCrResponse; t++ {
		if n := m.TxRequests(t); n > 0 {
			s.TxRequests[t.String()] = n
		}
		if n := m.RxRequests(t); n > 0 {
			s.RxRequests[t.String()] = n
		}
	}
	m.challengesMu.RLock()
	s.Challenges = maps.Clone(m.challenges)
	m.challengesMu.RUnlock()
	s.JitterSamples, s.JitterLastMs, _, _ = m.Jitter()
	return s
}

// Reset clears all metrics.
func (m *InMemoryMetrics) Reset() {
	for i := range m.txRequests {
		atomic.StoreUint64(&m.txRequests[i], 0)
		atomic.StoreUint64(&m.rxRequests[i], 0)
	}
	atomic.StoreUint64(&m.verifySucceeded, 0)
	atomic.StoreUint64(&m.verifyFailed, 0)
	atomic.StoreUint64(&m.publishOK, 0)
	atomic.StoreUint64(&m.publishFailed, 0)

	m.errorsMu.Lock()
	m.errorsByType = make(map[string]uint64)
	m.errorsMu.Unlock()

	m.challengesMu.Lock()
	m.challenges = make(map[string]uint64)
	m.challengesMu.Unlock()

	m.jitterMu.Lock()
	m.jitter = jitterStats{}
	m.jitterMu.Unlock()

	m.fvValid.Store(false)
	m.participantState.Store("")
}
