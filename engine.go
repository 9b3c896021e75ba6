package go_fvm

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

// Role selects the behaviour composed into a FreshnessEngine.
type Role uint8

const (
	RoleParticipant Role = iota
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleParticipant:
		return "participant"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// ParseRole maps "participant" and "server" to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "participant":
		return RoleParticipant, nil
	case "server", "time-server":
		return RoleServer, nil
	default:
		return 0, oops.In("config").With("role", s).Errorf("unknown role %q", s)
	}
}

// RoleBehavior is the role specific part of the engine: its initialisation
// after the shared core is up, its periodic tick, and its reset on Deinit.
// MainFunction must call core.incTimers exactly once per tick.
type RoleBehavior interface {
	Init(core *FreshnessEngine) error
	MainFunction(core *FreshnessEngine) error
	Reset()
	EcuFunction() EcuFunction
}

// Options configures NewEngine.
type Options struct {
	Role      Role
	Config    ConfigProvider
	Crypto    CryptoService
	Transport SignalTransport
	// Timings defaults to DefaultTimings() when zero.
	Timings Timings
	// Metrics defaults to an InMemoryMetrics.
	Metrics MetricsCollector
}

type activeChallenge struct {
	issuedAt  uint64
	challenge []byte
}

// FreshnessEngine computes TX and RX freshness values, keeps the
// challenge/response bookkeeping and drives the role behaviour.
//
// The counter, its validity and the elapsed time are atomics; challenge maps
// and candidate lists have their own mutexes. MainFunction is expected to be
// called from a single goroutine; transport callbacks arrive on others.
type FreshnessEngine struct {
	role      RoleBehavior
	roleKind  Role
	config    *ConfigAccessor
	attrs     *RuntimeAttributesStore
	crypto    CryptoService
	transport SignalTransport
	timings   Timings
	metrics   MetricsCollector
	diag      *Diagnostics

	lifecycleMu sync.Mutex
	initialized atomic.Bool

	fv            atomic.Uint64
	fvValid       atomic.Bool
	timeSinceInit atomic.Uint64
	clockCount    atomic.Uint64

	challengeMu         sync.Mutex
	outgoing            map[FreshnessValueId]activeChallenge
	incoming            map[FreshnessValueId]activeChallenge
	challengeSignalToID map[string]FreshnessValueId
	callbacks           map[FreshnessValueId]ChallengeReceivedCallback

	candidatesMu sync.Mutex
	candidates   map[FreshnessValueId][]uint64

	subscribedMu sync.Mutex
	subscribed   map[string]struct{}

	// runMu guards the Run registration. stopped is set by Stop and cleared
	// by Init.
	runMu     sync.Mutex
	runCancel context.CancelFunc
	stopped   bool
	loopWG    sync.WaitGroup
}

// NewEngine composes an engine for opts.Role.
func NewEngine(opts Options) (*FreshnessEngine, error) {
	errb := oops.In("engine").With("role", opts.Role.String())
	if opts.Config == nil || opts.Crypto == nil || opts.Transport == nil {
		return nil, causeError("NewEngine", 0, ErrInitializeFailed,
			errb.Errorf("config provider, crypto service and transport are required"))
	}
	timings := opts.Timings
	if timings == (Timings{}) {
		timings = DefaultTimings()
	}
	if err := timings.validate(); err != nil {
		return nil, err
	}

	var role RoleBehavior
	switch opts.Role {
	case RoleParticipant:
		role = newParticipant()
	case RoleServer:
		role = newServer()
	default:
		return nil, causeError("NewEngine", 0, ErrInitializeFailed, errb.Errorf("unknown role %d", opts.Role))
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewInMemoryMetrics()
	}

	e := &FreshnessEngine{
		role:                role,
		roleKind:            opts.Role,
		config:              NewConfigAccessor(opts.Config),
		attrs:               NewRuntimeAttributesStore(),
		crypto:              opts.Crypto,
		transport:           opts.Transport,
		timings:             timings,
		metrics:             metrics,
		diag:                NewDiagnostics(role.EcuFunction(), timings.MainFunctionPeriodMs),
		outgoing:            make(map[FreshnessValueId]activeChallenge),
		incoming:            make(map[FreshnessValueId]activeChallenge),
		challengeSignalToID: make(map[string]FreshnessValueId),
		callbacks:           make(map[FreshnessValueId]ChallengeReceivedCallback),
		candidates:          make(map[FreshnessValueId][]uint64),
		subscribed:          make(map[string]struct{}),
	}
	log.WithFields(logger.Fields{
		"role":           opts.Role.String(),
		"main_period_ms": timings.MainFunctionPeriodMs,
	}).Debug("Created freshness engine")
	return e, nil
}

// guard runs fn and converts a panic into ErrGeneral. Errors are counted by
// code.
func (e *FreshnessEngine) guard(op string, id FreshnessValueId, fn func() error) (err error) {
	perr := oops.In("engine").With("op", op, "fv_id", id).Recoverf(func() {
		err = fn()
	}, "panic in %s", op)
	if perr != nil {
		log.WithFields(fvFields(op, id)).WithError(perr).Error("Recovered from panic")
		err = causeError(op, id, ErrGeneral, perr)
	}
	if err != nil {
		e.metrics.IncrementError(CodeOf(err).String())
	}
	return err
}

// Init loads the configuration, checks every configured key, creates the
// runtime attributes, subscribes to challenge signals and initialises the
// role.
func (e *FreshnessEngine) Init() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	const op = "Init"
	return e.guard(op, 0, func() error {
		if e.initialized.Load() {
			return newError(op, 0, ErrAlreadyInitialized)
		}
		if err := e.config.Init(); err != nil {
			return causeError(op, 0, ErrInitializeFailed, err)
		}

		keyCfg := e.config.KeyConfig()
		for _, id := range sortedKeys(keyCfg) {
			keyID := keyCfg[id]
			if err := e.crypto.IsKeyExists(keyID); err != nil {
				log.WithFields(fvFields(op, id)).WithField("key_id", keyID).Error("Configured key was not found")
				e.diag.SetMissingKey(keyID)
				e.config.reset()
				return causeError(op, id, ErrKeyNotFound, err)
			}
		}

		e.attrs.Init(e.config)
		e.registerChallengeSignals()

		if err := e.role.Init(e); err != nil {
			e.resetState()
			return err
		}

		e.initialized.Store(true)
		e.runMu.Lock()
		e.stopped = false
		e.runMu.Unlock()
		e.publishTimeInfo()
		log.WithFields(logger.Fields{
			"role": e.roleKind.String(),
			"ecu":  e.config.EcuName(),
			"ids":  len(e.config.AllFreshnessValueIds()),
		}).Debug("Freshness engine initialized")
		return nil
	})
}

// Deinit stops the periodic driver, waits for it and resets all transient
// state. Calling it on an engine that is not initialized only logs.
func (e *FreshnessEngine) Deinit() error {
	e.Stop()
	e.loopWG.Wait()

	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	return e.guard("Deinit", 0, func() error {
		if !e.initialized.Load() {
			Warning("Freshness engine is not initialized, nothing to deinit")
			return nil
		}
		e.initialized.Store(false)
		e.resetState()
		Debug("Freshness engine deinitialized")
		return nil
	})
}

func (e *FreshnessEngine) resetState() {
	e.attrs.Reset()
	e.fvValid.Store(false)
	e.timeSinceInit.Store(0)
	e.clockCount.Store(0)
	e.fv.Store(0)

	e.challengeMu.Lock()
	clear(e.challengeSignalToID)
	clear(e.outgoing)
	clear(e.incoming)
	e.challengeMu.Unlock()

	e.candidatesMu.Lock()
	clear(e.candidates)
	e.candidatesMu.Unlock()

	e.role.Reset()
	e.config.reset()
	e.metrics.SetFreshnessValueValid(false)
}

// subscribeOnce subscribes cb to sig unless a subscription for the signal
// name already exists. Transports cannot unsubscribe, so a re-Init reuses
// the existing subscription.
func (e *FreshnessEngine) subscribeOnce(sig SignalConfig, cb SignalCallback) error {
	e.subscribedMu.Lock()
	defer e.subscribedMu.Unlock()
	if _, ok := e.subscribed[sig.Name]; ok {
		return nil
	}
	if err := e.transport.Subscribe(sig, cb); err != nil {
		return err
	}
	e.subscribed[sig.Name] = struct{}{}
	return nil
}

// publish sends a value and counts the outcome.
func (e *FreshnessEngine) publish(sig SignalConfig, value []byte) error {
	err := e.transport.Publish(sig, value)
	e.metrics.IncrementPublish(sig.Name, err == nil)
	return err
}

// MainFunction runs one tick of the role behaviour.
func (e *FreshnessEngine) MainFunction() error {
	const op = "MainFunction"
	return e.guard(op, 0, func() error {
		if !e.initialized.Load() {
			return newError(op, 0, ErrNotInitialized)
		}
		err := e.role.MainFunction(e)
		e.publishTimeInfo()
		return err
	})
}

// incTimers advances the elapsed time and, once per increment period while
// the counter is valid, the counter itself.
func (e *FreshnessEngine) incTimers() {
	period := e.timings.MainFunctionPeriodMs
	e.timeSinceInit.Add(period)
	clock := e.clockCount.Add(period)
	if e.fvValid.Load() && clock >= e.timings.IncrementPeriodMs {
		e.clockCount.Store(0)
		e.fv.Add(1)
	}
}

func (e *FreshnessEngine) publishTimeInfo() {
	valid := e.fvValid.Load()
	e.diag.SetTimeInfo(valid, e.fv.Load())
	e.metrics.SetFreshnessValueValid(valid)
}

// Run calls MainFunction every main period until ctx is done or Stop is
// called. It returns ctx.Err() when ctx ends the loop and nil after Stop.
// A Stop that happens before Run registers makes Run return at once.
func (e *FreshnessEngine) Run(ctx context.Context) error {
	e.runMu.Lock()
	if e.runCancel != nil {
		e.runMu.Unlock()
		return newError("Run", 0, ErrGeneral)
	}
	if e.stopped {
		e.runMu.Unlock()
		Debug("Freshness engine stopped, main loop not started")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.runCancel = cancel
	e.loopWG.Add(1)
	e.runMu.Unlock()
	defer func() {
		e.runMu.Lock()
		e.runCancel = nil
		e.runMu.Unlock()
		cancel()
		e.loopWG.Done()
	}()

	ticker := time.NewTicker(time.Duration(e.timings.MainFunctionPeriodMs) * time.Millisecond)
	defer ticker.Stop()
	Debug("Freshness main loop started with period %d ms", e.timings.MainFunctionPeriodMs)
	for {
		select {
		case <-runCtx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.MainFunction(); err != nil && CodeOf(err) != CodeGeneralError {
				log.WithError(err).Debug("Main function tick failed")
			}
		}
	}
}

// Stop ends a running Run and keeps Run from starting until the next Init.
func (e *FreshnessEngine) Stop() {
	e.runMu.Lock()
	e.stopped = true
	if e.runCancel != nil {
		e.runCancel()
	}
	e.runMu.Unlock()
}

// IsInitialized reports whether Init succeeded and Deinit was not called.
func (e *FreshnessEngine) IsInitialized() bool { return e.initialized.Load() }

// FreshnessValue returns the current local counter.
func (e *FreshnessEngine) FreshnessValue() uint64 { return e.fv.Load() }

// IsFreshnessValueValid reports whether the local counter is authentic.
func (e *FreshnessEngine) IsFreshnessValueValid() bool { return e.fvValid.Load() }

// TimeSinceInit returns the elapsed milliseconds counted by MainFunction.
func (e *FreshnessEngine) TimeSinceInit() uint64 { return e.timeSinceInit.Load() }

// State returns the participant synchronisation state. A time server is
// always synchronised and reports FVStateIdle.
func (e *FreshnessEngine) State() FVState {
	if p, ok := e.role.(*participant); ok {
		return p.states.Current()
	}
	return FVStateIdle
}

// Role returns the configured role.
func (e *FreshnessEngine) Role() Role { return e.roleKind }

// Diagnostics returns the diagnostics recorder.
func (e *FreshnessEngine) Diagnostics() *Diagnostics { return e.diag }

// Metrics returns the metrics collector.
func (e *FreshnessEngine) Metrics() MetricsCollector { return e.metrics }

// SetMetrics replaces the metrics collector. Call before Init.
func (e *FreshnessEngine) SetMetrics(m MetricsCollector) {
	if m == nil {
		m = NewInMemoryMetrics()
	}
	e.metrics = m
}

// RuntimeAttributes returns a copy of the runtime record of id.
func (e *FreshnessEngine) RuntimeAttributes(id FreshnessValueId) (RuntimeAttributes, bool) {
	return e.attrs.Snapshot(id)
}

// GetTxFreshness returns the freshness bytes to sign a message of id with.
func (e *FreshnessEngine) GetTxFreshness(id FreshnessValueId) ([]byte, error) {
	const op = "GetTxFreshness"
	var out []byte
	err := e.guard(op, id, func() error {
		if !e.initialized.Load() {
			return newError(op, id, ErrNotInitialized)
		}
		t, err := e.config.FreshnessType(id)
		if err != nil {
			log.WithFields(fvFields(op, id)).Error("Freshness value id is not configured")
			return newError(op, id, ErrFvIdNotFound)
		}
		e.metrics.IncrementFreshnessRequest("tx", t)
		switch t {
		case FreshnessCrResponse:
			out, err = e.takeIncomingChallenge(id)
			return err
		case FreshnessValue, FreshnessValueSessionSender:
			out = e.txFreshness(id, t)
			return nil
		default:
			log.WithFields(fvFields(op, id)).WithField("type", t.String()).Error("Freshness type not supported for TX")
			return newError(op, id, ErrGeneral)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *FreshnessEngine) txFreshness(id FreshnessValueId, t FreshnessType) []byte {
	now := e.timeSinceInit.Load()
	var out []byte
	switch {
	case !e.attrs.IsActive(id):
		e.attrs.SetActive(id, now)
		out = uint64ToBytes(SOK_UPSTART_TIME)
	case !e.fvValid.Load():
		if now <= e.timings.ValidTimeoutMs {
			out = uint64ToBytes(SOK_UPSTART_TIME)
		} else {
			log.WithFields(fvFields("GetTxFreshness", id)).Warn("No valid freshness value, signing with invalid time")
			e.diag.SetFreshnessStatus(id, DiagFailed)
			out = uint64ToBytes(SOK_INVALID_TIME)
		}
	default:
		fv := e.fv.Load()
		out = uint64ToBytes(fv)
		e.attrs.UpdateEvent(EventSignRequest, id, fv)
	}
	if t == FreshnessValueSessionSender {
		out = append(out, e.attrs.IncSessionCounter(id)...)
	}
	return out
}

// GetRxFreshness returns the freshness bytes to verify a received message of
// id with. attempt counts verification attempts within one round, starting
// at zero.
func (e *FreshnessEngine) GetRxFreshness(id FreshnessValueId, truncated []byte, attempt uint16) ([]byte, error) {
	const op = "GetRxFreshness"
	var out []byte
	err := e.guard(op, id, func() error {
		if !e.initialized.Load() {
			return newError(op, id, ErrNotInitialized)
		}
		t, err := e.config.FreshnessType(id)
		if err != nil {
			log.WithFields(fvFields(op, id)).Error("Freshness value id is not configured")
			return newError(op, id, ErrFvIdNotFound)
		}
		e.metrics.IncrementFreshnessRequest("rx", t)
		switch t {
		case FreshnessCrChallenge:
			if attempt != 0 {
				log.WithFields(fvFields(op, id)).WithField("attempt", attempt).Error("Challenge ids allow a single verification attempt")
				return newError(op, id, ErrGeneral)
			}
			out, err = e.outgoingChallenge(id)
			return err
		case FreshnessValue, FreshnessValueSessionReceiver:
			out, err = e.rxFreshness(id, t, truncated, attempt)
			return err
		default:
			log.WithFields(fvFields(op, id)).WithField("type", t.String()).Error("Freshness type not supported for RX")
			return newError(op, id, ErrGeneral)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *FreshnessEngine) rxFreshness(id FreshnessValueId, t FreshnessType, truncated []byte, attempt uint16) ([]byte, error) {
	const op = "GetRxFreshness"
	e.candidatesMu.Lock()
	defer e.candidatesMu.Unlock()

	if attempt != 0 {
		list, ok := e.candidates[id]
		if !ok {
			log.WithFields(fvFields(op, id)).WithField("attempt", attempt).Error("First verification attempt must be zero")
			return nil, newError(op, id, ErrGeneral)
		}
		if int(attempt) >= len(list) {
			log.WithFields(fvFields(op, id)).WithField("attempt", attempt).Error("Verification attempt out of range")
			return nil, newError(op, id, ErrGeneral)
		}
		return append(uint64ToBytes(list[attempt]), truncated...), nil
	}

	// Attempt zero starts a new round; candidates of a round that never
	// verified are dropped.
	delete(e.candidates, id)

	if t == FreshnessValueSessionReceiver {
		expected := e.attrs.GetNextSessionCounter(id)
		if !slices.Equal(truncated, expected) {
			log.WithFields(fvFields(op, id)).Error("Session counter mismatch")
			return nil, newError(op, id, ErrGeneral)
		}
		e.attrs.IncSessionCounter(id)
	}

	now := e.timeSinceInit.Load()
	valid := e.fvValid.Load()
	if !valid && now > e.timings.ValidTimeoutMs {
		log.WithFields(fvFields(op, id)).Warn("No authentic freshness value available")
		e.diag.SetFreshnessStatus(id, DiagFailed)
		return nil, newError(op, id, ErrFVNotAvailable)
	}

	firstOccurrence := false
	if !e.attrs.IsActive(id) {
		firstOccurrence = true
		e.attrs.SetActive(id, now)
	}

	fv := e.fv.Load()
	var list []uint64
	switch {
	case !valid:
		list = []uint64{SOK_UPSTART_TIME}
	case firstOccurrence:
		list = []uint64{SOK_UPSTART_TIME, fv, fv - 1, fv + 1}
	default:
		firstActivity := e.attrs.GetEvent(EventFirstActivity, id)
		if fv < firstActivity {
			log.WithFields(fvFields(op, id)).Error("Freshness value is older than the first activity")
			return nil, newError(op, id, ErrGeneral)
		}
		if now-firstActivity <= e.timings.ValidTimeoutMs {
			list = []uint64{SOK_UPSTART_TIME, fv, fv - 1, fv + 1}
		} else {
			list = []uint64{fv, fv - 1, fv + 1}
		}
	}
	e.candidates[id] = list
	e.attrs.UpdateEvent(EventVerifyRequest, id, fv)
	return append(uint64ToBytes(list[attempt]), truncated...), nil
}

// VerificationStatusCallout receives the verification outcome of a message
// of status.FvID.
func (e *FreshnessEngine) VerificationStatusCallout(status VerificationStatus) {
	const op = "VerificationStatusCallout"
	id := status.FvID
	_ = e.guard(op, id, func() error {
		t, err := e.config.FreshnessType(id)
		if err != nil {
			log.WithFields(fvFields(op, id)).Error("Freshness value id is not configured")
			return nil
		}
		e.metrics.IncrementVerification(status.Succeeded)
		switch t {
		case FreshnessCrChallenge:
			if status.Succeeded {
				e.challengeMu.Lock()
				delete(e.outgoing, id)
				e.challengeMu.Unlock()
				Debug("Challenge response for id %d verified", id)
			}
		case FreshnessValue, FreshnessValueSessionReceiver:
			if status.Succeeded {
				lastReq := e.attrs.GetEvent(EventVerifyRequest, id)
				e.attrs.UpdateEvent(EventVerifySuccess, id, lastReq)
				e.candidatesMu.Lock()
				delete(e.candidates, id)
				e.candidatesMu.Unlock()
				e.diag.SetFreshnessStatus(id, DiagSuccess)
				return nil
			}
			// Candidates stay so the caller can continue with the next attempt.
			if br, err := e.config.BroadcastConfig(id); err == nil {
				e.diag.SetPduVerificationFailed(br.PduID)
			}
			e.diag.SetFreshnessStatus(id, DiagVerificationFailed)
		default:
			log.WithFields(fvFields(op, id)).WithField("type", t.String()).Error("Freshness type not supported for verification status")
		}
		return nil
	})
}

// SPduTxConfirmation marks the last signing request of id as transmitted.
func (e *FreshnessEngine) SPduTxConfirmation(id FreshnessValueId) {
	_ = e.guard("SPduTxConfirmation", id, func() error {
		lastReq := e.attrs.GetEvent(EventSignRequest, id)
		e.attrs.UpdateEvent(EventSignSuccess, id, lastReq)
		return nil
	})
}

func sortedKeys[V any](m map[FreshnessValueId]V) []FreshnessValueId {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

// TriggerCrRequest issues a new outgoing challenge for a CHALLENGE id and
// publishes it on the id's challenge signal. A pending challenge younger
// than the challenge timeout blocks a new one. The slot is reserved before
// publishing and restored if the challenge cannot be sent.
func (e *FreshnessEngine) TriggerCrRequest(id FreshnessValueId) error {
	const op = "TriggerCrRequest"
	return e.guard(op, id, func() error {
		if !e.initialized.Load() {
			return newError(op, id, ErrNotInitialized)
		}
		cfg, err := e.config.ChallengeConfig(id)
		if err != nil || cfg.Type != FreshnessCrChallenge {
			log.WithFields(fvFields(op, id)).Error("Freshness value id is not configured for challenge triggering")
			return newError(op, id, ErrFvIdNotFound)
		}

		now := e.timeSinceInit.Load()
		e.challengeMu.Lock()
		prev, hadPrev := e.outgoing[id]
		if hadPrev && now-prev.issuedAt < e.timings.ChallengeTimeoutMs {
			e.challengeMu.Unlock()
			log.WithFields(fvFields(op, id)).WithField("age_ms", now-prev.issuedAt).Error("Previous challenge is still pending")
			return newError(op, id, ErrGeneral)
		}
		e.outgoing[id] = activeChallenge{issuedAt: now}
		e.challengeMu.Unlock()

		committed := false
		defer func() {
			if committed {
				return
			}
			e.challengeMu.Lock()
			if hadPrev {
				e.outgoing[id] = prev
			} else {
				delete(e.outgoing, id)
			}
			e.challengeMu.Unlock()
		}()

		challenge, err := e.crypto.GenerateRandomBytes(CHALLENGE_LENGTH_BYTES)
		if err != nil {
			return causeError(op, id, ErrRng, err)
		}
		e.challengeMu.Lock()
		e.outgoing[id] = activeChallenge{issuedAt: now, challenge: challenge}
		e.challengeMu.Unlock()

		if err := e.publish(cfg.ChallengeSignal, challenge); err != nil {
			log.WithFields(fvFields(op, id)).WithError(err).Error("Failed publishing challenge signal")
			return causeError(op, id, ErrGeneral, err)
		}
		committed = true
		e.metrics.IncrementChallenge("outgoing")
		log.WithFields(fvFields(op, id)).WithField("challenge", bytesToUint64(challenge)).Debug("Triggered challenge")
		return nil
	})
}

// OfferCrRequest registers cb for challenges arriving on a RESPONSE id.
// cb runs on the transport's delivery goroutine and must return quickly.
func (e *FreshnessEngine) OfferCrRequest(id FreshnessValueId, cb ChallengeReceivedCallback) error {
	const op = "OfferCrRequest"
	return e.guard(op, id, func() error {
		t, err := e.config.FreshnessType(id)
		if err != nil || t != FreshnessCrResponse {
			log.WithFields(fvFields(op, id)).Error("Freshness value id is not of challenge response type")
			return newError(op, id, ErrFvIdNotFound)
		}
		if cb == nil {
			return causeError(op, id, ErrGeneral, oops.In("engine").Errorf("nil challenge callback"))
		}
		e.challengeMu.Lock()
		e.callbacks[id] = cb
		e.challengeMu.Unlock()
		return nil
	})
}

// registerChallengeSignals subscribes to the challenge signal of every
// RESPONSE id. A failed subscription is logged and skipped.
func (e *FreshnessEngine) registerChallengeSignals() {
	for _, id := range e.config.ChallengeIds() {
		cfg, err := e.config.ChallengeConfig(id)
		if err != nil || cfg.Type != FreshnessCrResponse {
			continue
		}
		if err := e.subscribeOnce(cfg.ChallengeSignal, e.onIncomingChallenge); err != nil {
			log.WithFields(fvFields("Init", id)).WithError(err).
				WithField("signal", cfg.ChallengeSignal.Name).Error("Failed subscribing to challenge signal")
			continue
		}
		e.challengeMu.Lock()
		e.challengeSignalToID[cfg.ChallengeSignal.Name] = id
		e.challengeMu.Unlock()
	}
}

func (e *FreshnessEngine) onIncomingChallenge(signal string, challenge []byte) {
	fields := logger.Fields{"signal": signal}
	if len(challenge) != CHALLENGE_LENGTH_BYTES {
		log.WithFields(fields).WithField("size", len(challenge)).Error("Invalid challenge size")
		return
	}

	e.challengeMu.Lock()
	id, ok := e.challengeSignalToID[signal]
	if !ok {
		e.challengeMu.Unlock()
		log.WithFields(fields).Error("Received unregistered challenge signal")
		return
	}
	fields["fv_id"] = id
	cb, ok := e.callbacks[id]
	if !ok {
		e.challengeMu.Unlock()
		log.WithFields(fields).Error("No application callback registered for challenge")
		return
	}
	now := e.timeSinceInit.Load()
	if pending, ok := e.incoming[id]; ok && now-pending.issuedAt < e.timings.ChallengeTimeoutMs {
		e.challengeMu.Unlock()
		log.WithFields(fields).WithField("age_ms", now-pending.issuedAt).Error("Previous incoming challenge is still pending")
		return
	}
	e.incoming[id] = activeChallenge{issuedAt: now, challenge: cloneBytes(challenge)}
	e.challengeMu.Unlock()

	e.metrics.IncrementChallenge("incoming")
	log.WithFields(fields).Debug("Notifying application of incoming challenge")
	if perr := oops.In("engine").With("fv_id", id).Recoverf(func() { cb(id) }, "panic in challenge callback"); perr != nil {
		log.WithFields(fields).WithError(perr).Error("Challenge callback panicked")
	}
}

// takeIncomingChallenge removes and returns the pending incoming challenge.
func (e *FreshnessEngine) takeIncomingChallenge(id FreshnessValueId) ([]byte, error) {
	e.challengeMu.Lock()
	defer e.challengeMu.Unlock()
	ch, ok := e.incoming[id]
	if !ok {
		log.WithFields(fvFields("GetTxFreshness", id)).Error("No incoming challenge to answer")
		return nil, newError("GetTxFreshness", id, ErrGeneral)
	}
	delete(e.incoming, id)
	return ch.challenge, nil
}

// outgoingChallenge returns the pending outgoing challenge without removing
// it.
func (e *FreshnessEngine) outgoingChallenge(id FreshnessValueId) ([]byte, error) {
	e.challengeMu.Lock()
	defer e.challengeMu.Unlock()
	ch, ok := e.outgoing[id]
	if !ok || ch.challenge == nil {
		log.WithFields(fvFields("GetRxFreshness", id)).Error("No outgoing challenge pending")
		return nil, newError("GetRxFreshness", id, ErrGeneral)
	}
	return cloneBytes(ch.challenge), nil
}
