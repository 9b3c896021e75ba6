package go_fvm

// mocks_test.go - Shared fakes and fixtures used across the test files.

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
)

// fakeCrypto is a deterministic CryptoService. Tags are the first 16 bytes
// of SHA-256(keyID || data), so tests can compute the expected MAC.
type fakeCrypto struct {
	mu         sync.Mutex
	keys       map[uint16]bool
	random     [][]byte
	rngErr     error
	macErr     error
	panicOnRng bool
	verified   [][]byte
}

func newFakeCrypto(keyIDs ...uint16) *fakeCrypto {
	f := &fakeCrypto{keys: make(map[uint16]bool)}
	for _, id := range keyIDs {
		f.keys[id] = true
	}
	return f
}

// queueRandom makes the next GenerateRandomBytes calls return b in order.
func (f *fakeCrypto) queueRandom(b ...[]byte) {
	f.mu.Lock()
	f.random = append(f.random, b...)
	f.mu.Unlock()
}

func fakeTag(keyID uint16, data []byte) []byte {
	h := sha256.New()
	_ = binary.Write(h, binary.BigEndian, keyID)
	h.Write(data)
	return h.Sum(nil)[:16]
}

func (f *fakeCrypto) MacCreate(keyID uint16, data []byte, alg MacAlgorithm) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.macErr != nil {
		return nil, f.macErr
	}
	if alg != MacAES128CMAC {
		return nil, ErrUnsupportedAlgorithm
	}
	if !f.keys[keyID] {
		return nil, ErrKeyNotFound
	}
	return fakeTag(keyID, data), nil
}

func (f *fakeCrypto) MacVerify(keyID uint16, data, mac []byte, alg MacAlgorithm) error {
	f.mu.Lock()
	f.verified = append(f.verified, cloneBytes(data))
	f.mu.Unlock()
	full, err := f.MacCreate(keyID, data, alg)
	if err != nil {
		return err
	}
	if len(mac) == 0 || len(mac) > len(full) || !bytes.Equal(full[:len(mac)], mac) {
		return ErrMacVerificationFailed
	}
	return nil
}

func (f *fakeCrypto) IsKeyExists(keyID uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.keys[keyID] {
		return ErrKeyNotFound
	}
	return nil
}

func (f *fakeCrypto) GenerateRandomBytes(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnRng {
		panic("rng exploded")
	}
	if f.rngErr != nil {
		return nil, f.rngErr
	}
	if len(f.random) > 0 {
		b := f.random[0]
		f.random = f.random[1:]
		return b, nil
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i + 1)
	}
	return out, nil
}

type publishedSignal struct {
	name  string
	value []byte
}

// recordingTransport records publishes without delivering them. Tests
// deliver incoming signals explicitly.
type recordingTransport struct {
	mu         sync.Mutex
	subs       map[string][]SignalCallback
	subscribes int
	published  []publishedSignal
	failOn     map[string]error
	// beforePublish, when set, runs ahead of every Publish outside the lock.
	beforePublish func(name string)
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{
		subs:   make(map[string][]SignalCallback),
		failOn: make(map[string]error),
	}
}

func (r *recordingTransport) Subscribe(sig SignalConfig, cb SignalCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sig.Name] = append(r.subs[sig.Name], cb)
	r.subscribes++
	return nil
}

func (r *recordingTransport) Publish(sig SignalConfig, value []byte) error {
	if r.beforePublish != nil {
		r.beforePublish(sig.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn[sig.Name]; err != nil {
		return err
	}
	r.published = append(r.published, publishedSignal{name: sig.Name, value: cloneBytes(value)})
	return nil
}

func (r *recordingTransport) deliver(name string, value []byte) {
	r.mu.Lock()
	subs := append([]SignalCallback(nil), r.subs[name]...)
	r.mu.Unlock()
	for _, cb := range subs {
		cb(name, value)
	}
}

func (r *recordingTransport) fail(name string, err error) {
	r.mu.Lock()
	r.failOn[name] = err
	r.mu.Unlock()
}

// publishedOn returns every value published on name, oldest first.
func (r *recordingTransport) publishedOn(name string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, p := range r.published {
		if p.name == name {
			out = append(out, p.value)
		}
	}
	return out
}

var errTransport = errors.New("link down")

// Fixture ids and signals.
const (
	idPlain           FreshnessValueId = 1
	idSessionSender   FreshnessValueId = 2
	idSessionReceiver FreshnessValueId = 3
	idChallenge       FreshnessValueId = 10
	idResponse        FreshnessValueId = 11
	idUnknown         FreshnessValueId = 99

	keyPlain     uint16 = 5
	keyChallenge uint16 = 6
	keyECU1      uint16 = 8

	sigUnauth        = "SOK_Zeit_Unauth"
	sigECU1Challenge = "SOK_Zeit_ECU1_Challenge"
	sigECU1Value     = "SOK_Zeit_ECU1_Value"
	sigECU1Signature = "SOK_Zeit_ECU1_Signature"
	sigCrChallenge   = "CR_Challenge_10"
	sigCrResponse    = "CR_Challenge_11"
)

func testSignal(name string, pdu PduId, bits uint32) SignalConfig {
	return SignalConfig{
		Frame: FrameConfig{
			Name:                "SOK_Frame",
			MaxPayloadSizeBytes: 1400,
			SourceIP:            "127.0.0.1",
			DestinationIP:       "127.0.0.1",
			SourcePort:          30490,
			DestinationPort:     30491,
		},
		Pdu:          PduConfig{Name: name + "_Pdu", ID: pdu, LengthBytes: 16},
		Name:         name,
		StartByte:    0,
		LengthInBits: bits,
	}
}

// testConfig is shared by participant and server tests. The participant's
// distribution signals are the server's ECU1 client signals.
func testConfig() *Config {
	return &Config{
		NetworkInterface:           "lo",
		EcuName:                    "ECU1",
		KeyIDForAuthFvDistribution: keyECU1,
		AuthBroadcast: map[FreshnessValueId]BroadcastConfig{
			idPlain:           {Type: FreshnessValue, PduID: 100},
			idSessionSender:   {Type: FreshnessValueSessionSender, PduID: 101, SessionCounterLength: 1},
			idSessionReceiver: {Type: FreshnessValueSessionReceiver, PduID: 102, SessionCounterLength: 1},
		},
		Challenges: map[FreshnessValueId]ChallengeConfig{
			idChallenge: {Type: FreshnessCrChallenge, ChallengeSignal: testSignal(sigCrChallenge, 110, 64)},
			idResponse:  {Type: FreshnessCrResponse, ChallengeSignal: testSignal(sigCrResponse, 111, 64)},
		},
		Keys: map[FreshnessValueId]uint16{
			idPlain:     keyPlain,
			idChallenge: keyChallenge,
		},
		Clients: map[string]ClientConfig{
			"ECU1": {
				ChallengeSignal:         testSignal(sigECU1Challenge, 201, 64),
				ResponseValueSignal:     testSignal(sigECU1Value, 202, 56),
				ResponseSignatureSignal: testSignal(sigECU1Signature, 203, 64),
				KeyID:                   keyECU1,
			},
		},
		UnauthFvSignal:        testSignal(sigUnauth, 200, 64),
		AuthFvChallengeSignal: testSignal(sigECU1Challenge, 201, 64),
		AuthFvValueSignal:     testSignal(sigECU1Value, 202, 56),
		AuthFvSignatureSignal: testSignal(sigECU1Signature, 203, 64),
	}
}

// newTestEngine builds an engine on fakes without initializing it.
func newTestEngine(t *testing.T, role Role) (*FreshnessEngine, *fakeCrypto, *recordingTransport) {
	t.Helper()
	crypto := newFakeCrypto(keyPlain, keyChallenge, keyECU1)
	transport := newRecordingTransport()
	e, err := NewEngine(Options{
		Role:      role,
		Config:    StaticConfigProvider{Config: testConfig()},
		Crypto:    crypto,
		Transport: transport,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e, crypto, transport
}

// newInitializedEngine builds and initializes an engine on fakes.
func newInitializedEngine(t *testing.T, role Role) (*FreshnessEngine, *fakeCrypto, *recordingTransport) {
	t.Helper()
	e, crypto, transport := newTestEngine(t, role)
	if err := e.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Deinit() })
	return e, crypto, transport
}

// newServerEngine initializes a time server whose counter starts at fv.
func newServerEngine(t *testing.T, fv uint64) (*FreshnessEngine, *fakeCrypto, *recordingTransport) {
	t.Helper()
	e, crypto, transport := newTestEngine(t, RoleServer)
	crypto.queueRandom(uint64ToBytes(fv)[1:])
	if err := e.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Deinit() })
	return e, crypto, transport
}

// tick calls MainFunction n times.
func tick(t *testing.T, e *FreshnessEngine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = e.MainFunction()
	}
}

func withTruncated(v uint64, truncated ...byte) []byte {
	return append(uint64ToBytes(v), truncated...)
}
