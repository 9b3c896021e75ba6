package go_fvm

import "sync"

// EventType selects which timestamp of a runtime attribute record an event
// update refers to.
type EventType uint8

const (
	EventSignRequest EventType = iota
	EventSignSuccess
	EventVerifyRequest
	EventVerifySuccess
	EventFirstActivity
)

// RuntimeAttributes is the mutable per-id state kept between Init and
// Deinit. Timestamps are freshness counter values or elapsed milliseconds,
// never wall-clock time.
type RuntimeAttributes struct {
	Active                bool
	SessionCounterLength  uint8
	FirstUsed             uint64
	LastVerifiedTime      uint64
	LastVerifyRequestTime uint64
	LastSignedTime        uint64
	LastSignRequestTime   uint64
	SessionCounter        []byte
}

// RuntimeAttributesStore holds one RuntimeAttributes record per configured id.
// Lookups of unknown ids are no-ops returning zero values.
type RuntimeAttributesStore struct {
	mu    sync.RWMutex
	attrs map[FreshnessValueId]*RuntimeAttributes
}

// NewRuntimeAttributesStore creates an empty store.
func NewRuntimeAttributesStore() *RuntimeAttributesStore {
	return &RuntimeAttributesStore{attrs: make(map[FreshnessValueId]*RuntimeAttributes)}
}

// Init creates a fresh inactive record for every configured id. Session
// counter lengths come from the broadcast configuration; ids without one get
// no session counter.
func (s *RuntimeAttributesStore) Init(accessor *ConfigAccessor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs = make(map[FreshnessValueId]*RuntimeAttributes)
	for _, id := range accessor.AllFreshnessValueIds() {
		var length uint8
		if br, err := accessor.BroadcastConfig(id); err == nil {
			length = br.SessionCounterLength
		}
		s.attrs[id] = &RuntimeAttributes{
			SessionCounterLength: length,
			SessionCounter:       make([]byte, length),
		}
	}
}

// Reset drops every record.
func (s *RuntimeAttributesStore) Reset() {
	s.mu.Lock()
	s.attrs = make(map[FreshnessValueId]*RuntimeAttributes)
	s.mu.Unlock()
}

func (s *RuntimeAttributesStore) IsActive(id FreshnessValueId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attrs[id]
	return ok && a.Active
}

// SetActive activates id and records its first use. It only has an effect
// the first time it is called for an id.
func (s *RuntimeAttributesStore) SetActive(id FreshnessValueId, activationTime uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.attrs[id]; ok && !a.Active {
		a.Active = true
		a.FirstUsed = activationTime
	}
}

// IncSessionCounter advances the session counter of id and returns the new
// value. Ids without a session counter return nil.
func (s *RuntimeAttributesStore) IncSessionCounter(id FreshnessValueId) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attrs[id]
	if !ok || a.SessionCounterLength == 0 {
		return nil
	}
	incrementByteArray(a.SessionCounter)
	return cloneBytes(a.SessionCounter)
}

// GetSessionCounter returns the last used session counter of id.
func (s *RuntimeAttributesStore) GetSessionCounter(id FreshnessValueId) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attrs[id]
	if !ok || a.SessionCounterLength == 0 {
		return nil
	}
	return cloneBytes(a.SessionCounter)
}

// GetNextSessionCounter returns the value IncSessionCounter would produce
// without changing the stored counter.
func (s *RuntimeAttributesStore) GetNextSessionCounter(id FreshnessValueId) []byte {
	next := s.GetSessionCounter(id)
	if next == nil {
		return nil
	}
	incrementByteArray(next)
	return next
}

// UpdateEvent stores value in the timestamp selected by event.
func (s *RuntimeAttributesStore) UpdateEvent(event EventType, id FreshnessValueId, value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attrs[id]
	if !ok {
		return
	}
	switch event {
	case EventSignRequest:
		a.LastSignRequestTime = value
	case EventSignSuccess:
		a.LastSignedTime = value
	case EventVerifyRequest:
		a.LastVerifyRequestTime = value
	case EventVerifySuccess:
		a.LastVerifiedTime = value
	case EventFirstActivity:
		a.FirstUsed = value
	}
}

// GetEvent returns the timestamp selected by event, zero for unknown ids.
func (s *RuntimeAttributesStore) GetEvent(event EventType, id FreshnessValueId) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attrs[id]
	if !ok {
		return 0
	}
	switch event {
	case EventSignRequest:
		return a.LastSignRequestTime
	case EventSignSuccess:
		return a.LastSignedTime
	case EventVerifyRequest:
		return a.LastVerifyRequestTime
	case EventVerifySuccess:
		return a.LastVerifiedTime
	case EventFirstActivity:
		return a.FirstUsed
	default:
		return 0
	}
}

// Snapshot returns a copy of the record for id.
func (s *RuntimeAttributesStore) Snapshot(id FreshnessValueId) (RuntimeAttributes, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attrs[id]
	if !ok {
		return RuntimeAttributes{}, false
	}
	out := *a
	out.SessionCounter = cloneBytes(a.SessionCounter)
	return out, true
}
