package go_fvm

import (
	"sync"

	"github.com/go-i2p/logger"
)

// participant acquires the authoritative counter from the time server with
// a challenge, verifies the MAC protected answer and keeps it in line with
// the unauthenticated broadcasts.
//
// Lock order: recFVMu or unauthMu before the state manager lock.
type participant struct {
	states *StateManager
	core   *FreshnessEngine

	ecuKeyID uint16
	// waitTimer is only touched from MainFunction.
	waitTimer       uint64
	activeChallenge []byte

	recFVMu  sync.Mutex
	authFV   []byte
	authMAC  []byte
	unauthMu sync.Mutex
	unauthFV []byte
}

func newParticipant() *participant {
	return &participant{
		states:    NewStateManager(),
		waitTimer: 65535,
	}
}

func (p *participant) EcuFunction() EcuFunction { return EcuFunctionParticipant }

func (p *participant) Init(core *FreshnessEngine) error {
	const op = "ParticipantInit"
	p.core = core
	p.ecuKeyID = core.config.EcuKeyIDForFvDistribution()
	if err := core.crypto.IsKeyExists(p.ecuKeyID); err != nil {
		log.WithField("key_id", p.ecuKeyID).Error("Key for the authentic freshness value distribution not found")
		core.diag.SetMissingKey(p.ecuKeyID)
		return causeError(op, 0, ErrKeyNotFound, err)
	}

	p.states.RegisterState(FVStateInProgress, p.waitForAuthenticFV)
	p.states.RegisterState(FVStateRequestFV, p.requestAuthenticFV)
	p.states.RegisterState(FVStateProcessFV, p.processAuthenticFV)
	p.states.RegisterState(FVStateProcessUnauthFV, p.processUnauthenticFV)
	p.states.RegisterState(FVStateIdle, func() error { return nil })
	p.states.OnTransition(func(from, to FVState) {
		core.metrics.SetParticipantState(to.String())
	})
	if err := p.states.Start(FVStateRequestFV); err != nil {
		return causeError(op, 0, ErrGeneral, err)
	}

	Debug("Subscribing to freshness value distribution signals")
	valueSig := core.config.AuthenticatedFvValueSignal()
	macSig := core.config.AuthenticatedFvSignatureSignal()
	unauthSig := core.config.UnauthenticatedFvSignal()
	for _, s := range []struct {
		sig SignalConfig
		cb  SignalCallback
	}{
		{valueSig, p.onAuthenticFV},
		{macSig, p.onAuthenticFV},
		{unauthSig, p.onUnauthenticFV},
	} {
		if err := core.subscribeOnce(s.sig, s.cb); err != nil {
			log.WithField("signal", s.sig.Name).WithError(err).Error("Failed subscribing to distribution signal")
			return causeError(op, 0, ErrGeneral, err)
		}
	}
	return nil
}

func (p *participant) MainFunction(core *FreshnessEngine) error {
	err := p.states.Enter()
	core.incTimers()
	return err
}

func (p *participant) Reset() {
	p.recFVMu.Lock()
	p.authFV = nil
	p.authMAC = nil
	p.recFVMu.Unlock()
	p.unauthMu.Lock()
	p.unauthFV = nil
	p.unauthMu.Unlock()
	p.activeChallenge = nil
	p.waitTimer = 65535
	p.states.Reset()
}

func (p *participant) onAuthenticFV(signal string, value []byte) {
	if p.core == nil {
		return
	}
	valueName := p.core.config.AuthenticatedFvValueSignal().Name
	macName := p.core.config.AuthenticatedFvSignatureSignal().Name

	p.recFVMu.Lock()
	defer p.recFVMu.Unlock()
	switch signal {
	case valueName:
		Debug("Received authenticated freshness value")
		p.authFV = cloneBytes(value)
	case macName:
		Debug("Received authenticated freshness value MAC")
		p.authMAC = cloneBytes(value)
	default:
		log.WithField("signal", signal).Error("Received an invalid signal")
	}
	if len(p.authFV) > 0 && len(p.authMAC) > 0 {
		p.states.ReactToFVRes()
	}
}

func (p *participant) onUnauthenticFV(signal string, value []byte) {
	if p.core == nil {
		return
	}
	p.unauthMu.Lock()
	defer p.unauthMu.Unlock()
	if signal != p.core.config.UnauthenticatedFvSignal().Name || len(value) != FRESHNESS_VALUE_SIZE_BYTES {
		log.WithFields(logger.Fields{
			"signal": signal,
			"size":   len(value),
		}).Error("Received an invalid unauthenticated freshness value signal")
		return
	}
	log.WithField("fv", bytesToUint64(value)).Debug("Received unauthenticated freshness value")
	p.unauthFV = cloneBytes(value)
	p.states.ReactToUnauthFVRes()
}

func (p *participant) requestAuthenticFV() error {
	challenge, err := p.core.crypto.GenerateRandomBytes(CHALLENGE_LENGTH_BYTES)
	if err != nil {
		Error("Failed generating random bytes for a challenge")
		return causeError("RequestFV", 0, ErrRng, err)
	}
	Debug("Requesting an authentic freshness value")
	if err := p.core.publish(p.core.config.AuthenticatedFvChallengeSignal(), challenge); err != nil {
		log.WithError(err).Error("Failed publishing the authentic freshness value request")
		return causeError("RequestFV", 0, ErrGeneral, err)
	}
	p.activeChallenge = challenge
	p.waitTimer = 0
	p.core.metrics.IncrementChallenge("outgoing")
	return p.states.TransitTo(FVStateInProgress)
}

func (p *participant) waitForAuthenticFV() error {
	p.waitTimer += p.core.timings.MainFunctionPeriodMs
	if p.waitTimer > p.core.timings.RequestTimeoutMs {
		p.recFVMu.Lock()
		defer p.recFVMu.Unlock()
		if p.states.CompareAndTransit(FVStateInProgress, FVStateRequestFV) {
			log.WithField("waited_ms", p.waitTimer).Warn("Authentic freshness value request timed out")
		}
	}
	return nil
}

func (p *participant) processAuthenticFV() error {
	p.recFVMu.Lock()
	defer p.recFVMu.Unlock()
	defer func() {
		p.authFV = nil
		p.authMAC = nil
	}()

	if len(p.authFV) < 1 {
		return p.states.TransitTo(FVStateInProgress)
	}
	payload := make([]byte, 0, len(p.activeChallenge)+len(p.authFV)-1)
	payload = append(payload, p.activeChallenge...)
	payload = append(payload, p.authFV[1:]...)

	err := p.core.crypto.MacVerify(p.ecuKeyID, payload, p.authMAC, MacAES128CMAC)
	p.core.metrics.IncrementVerification(err == nil)
	if err != nil {
		log.WithError(err).Error("Failed to verify the authentic freshness value")
		return p.states.TransitTo(FVStateInProgress)
	}

	fv := bytesToUint64(p.authFV)
	p.core.fv.Store(fv)
	p.core.fvValid.Store(true)
	p.core.clockCount.Store(0)
	log.WithField("fv", fv).Info("Authentic freshness value distribution completed")
	return p.states.TransitTo(FVStateIdle)
}

func (p *participant) processUnauthenticFV() error {
	p.unauthMu.Lock()
	defer p.unauthMu.Unlock()

	t := p.core.timings
	unauth := bytesToUint64(p.unauthFV)
	jitter := int64((p.core.fv.Load() - unauth) * t.IncrementPeriodMs)
	if jitter != 0 && absInt64(jitter) > int64(t.JitterMaxMs) {
		jitter = absInt64(jitter)
		jitter -= int64(p.core.clockCount.Load() + t.MainFunctionPeriodMs)
	}
	p.core.metrics.RecordJitter(jitter)

	exceeded := absInt64(jitter) > int64(t.JitterMaxMs)
	p.core.diag.SetJitterExceeded(exceeded)
	if exceeded {
		log.WithField("jitter_ms", absInt64(jitter)).Warn("Jitter against unauthenticated broadcast exceeded")
		p.core.fvValid.Store(false)
		p.unauthFV = nil
		return p.states.TransitTo(FVStateRequestFV)
	}
	return p.states.TransitTo(FVStateIdle)
}
