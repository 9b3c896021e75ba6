package go_fvm

import (
	"maps"
	"slices"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/samber/lo"
)

// server owns the authoritative counter. It broadcasts the counter
// unauthenticated every send period and answers client challenges with the
// counter and a MAC once per counter increment.
type server struct {
	core *FreshnessEngine

	// Flags are only touched from Init and MainFunction.
	needBroadcast     bool
	needAuthResponses bool

	clients map[string]ClientConfig

	challengesMu sync.Mutex
	pending      map[string][]byte
}

func newServer() *server {
	return &server{
		needBroadcast: true,
		clients:       make(map[string]ClientConfig),
		pending:       make(map[string][]byte),
	}
}

func (s *server) EcuFunction() EcuFunction { return EcuFunctionTimeServer }

func (s *server) Init(core *FreshnessEngine) error {
	const op = "ServerInit"
	s.core = core

	seed, err := core.crypto.GenerateRandomBytes(FVM_SERVER_NUM_OF_BYTES_INITIAL_FV)
	if err != nil {
		Error("Failed generating random initial freshness value")
		return causeError(op, 0, ErrRng, err)
	}
	core.fv.Store(bytesToUint64(seed))
	core.fvValid.Store(true)

	clients := core.config.Clients()
	names := lo.Keys(clients)
	slices.Sort(names)
	for _, name := range names {
		c := clients[name]
		fields := logger.Fields{"client": name, "key_id": c.KeyID}
		if err := core.crypto.IsKeyExists(c.KeyID); err != nil {
			log.WithFields(fields).Error("Key for authentic freshness value distribution not found")
			core.diag.SetMissingKey(c.KeyID)
			return causeError(op, 0, ErrKeyNotFound, err)
		}
		log.WithFields(fields).WithField("signal", c.ChallengeSignal.Name).Debug("Subscribing to client challenge signal")
		if err := core.subscribeOnce(c.ChallengeSignal, s.onClientChallenge); err != nil {
			log.WithFields(fields).WithError(err).Error("Failed subscribing to client challenge signal")
			return causeError(op, 0, ErrGeneral, err)
		}
	}

	s.challengesMu.Lock()
	s.clients = maps.Clone(clients)
	s.challengesMu.Unlock()
	log.WithFields(logger.Fields{
		"fv":      core.fv.Load(),
		"clients": len(names),
	}).Debug("Time server initialized")
	return nil
}

func (s *server) MainFunction(core *FreshnessEngine) error {
	var ret error
	if s.needBroadcast {
		if err := s.unauthenticatedBroadcast(); err != nil {
			ret = err
		}
	}
	if s.needAuthResponses {
		if err := s.sendAuthenticFvResponses(); err != nil {
			ret = err
		}
	}

	before := core.fv.Load()
	core.incTimers()
	if core.fv.Load() != before {
		s.needAuthResponses = true
	}
	if core.timeSinceInit.Load()%core.timings.SendPeriodMs == 0 {
		s.needBroadcast = true
	}
	return ret
}

func (s *server) Reset() {
	s.challengesMu.Lock()
	clear(s.pending)
	s.clients = make(map[string]ClientConfig)
	s.challengesMu.Unlock()
	s.needBroadcast = true
	s.needAuthResponses = false
}

func (s *server) onClientChallenge(signal string, challenge []byte) {
	client, ok := clientFromChallengeSignal(signal)
	if !ok {
		log.WithField("signal", signal).Error("Invalid challenge signal received")
		return
	}
	s.challengesMu.Lock()
	defer s.challengesMu.Unlock()
	if _, ok := s.clients[client]; !ok {
		log.WithField("client", client).Error("Challenge received from unsupported client")
		return
	}
	s.pending[client] = cloneBytes(challenge)
	if s.core != nil {
		s.core.metrics.IncrementChallenge("server")
	}
}

func (s *server) unauthenticatedBroadcast() error {
	fv := s.core.fv.Load()
	if err := s.core.publish(s.core.config.UnauthenticatedFvSignal(), uint64ToBytes(fv)); err != nil {
		log.WithError(err).Error("Failed broadcasting freshness value")
		return causeError("UnauthenticatedBroadcast", 0, ErrGeneral, err)
	}
	Debug("Published unauthenticated freshness value %d", fv)
	s.needBroadcast = false
	return nil
}

// sendAuthenticFvResponses answers every pending client challenge. A client
// that cannot be answered is recorded in diagnostics and skipped.
func (s *server) sendAuthenticFvResponses() error {
	s.challengesMu.Lock()
	pending := s.pending
	s.pending = make(map[string][]byte)
	clients := s.clients
	s.challengesMu.Unlock()

	fv := s.core.fv.Load()
	value := trimLeading(fv, FRESHNESS_VALUE_SIZE_BYTES-FVM_SERVER_NUM_OF_BYTES_INITIAL_FV)

	names := lo.Keys(pending)
	slices.Sort(names)
	for _, name := range names {
		c := clients[name]
		fields := logger.Fields{"client": name, "fv": fv}
		data := append(cloneBytes(pending[name]), value...)
		mac, err := s.core.crypto.MacCreate(c.KeyID, data, MacAES128CMAC)
		if err != nil || len(mac) < AUTH_FV_SIGNATURE_SIZE_BYTES {
			log.WithFields(fields).WithError(err).Error("Failed creating MAC for freshness value response")
			s.core.diag.SetSignatureFailed(name)
			continue
		}
		mac = mac[:AUTH_FV_SIGNATURE_SIZE_BYTES]

		if err := s.core.publish(c.ResponseValueSignal, value); err != nil {
			log.WithFields(fields).WithError(err).Error("Failed sending freshness value response")
			s.core.diag.SetSignatureFailed(name)
			continue
		}
		if err := s.core.publish(c.ResponseSignatureSignal, mac); err != nil {
			log.WithFields(fields).WithError(err).Error("Failed sending freshness value signature")
			s.core.diag.SetSignatureFailed(name)
			continue
		}
		log.WithFields(fields).Debug("Sent authentic freshness value response")
	}
	s.needAuthResponses = false
	return nil
}

// pendingChallenges returns the clients with an unanswered challenge.
func (s *server) pendingChallenges() []string {
	s.challengesMu.Lock()
	defer s.challengesMu.Unlock()
	names := lo.Keys(s.pending)
	slices.Sort(names)
	return names
}
