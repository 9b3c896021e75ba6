package go_fvm

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// ConfigAccessor is the read-only view of the resolved configuration the
// engine queries at runtime. It is loaded once per Init and cleared on
// Deinit.
type ConfigAccessor struct {
	mu       sync.RWMutex
	provider ConfigProvider
	cfg      *Config
}

// NewConfigAccessor creates an accessor backed by provider.
func NewConfigAccessor(provider ConfigProvider) *ConfigAccessor {
	return &ConfigAccessor{provider: provider}
}

// Init loads the configuration from the provider.
func (a *ConfigAccessor) Init() error {
	if a.provider == nil {
		return newError("ConfigAccessor.Init", 0, ErrInitializeFailed)
	}
	cfg, err := a.provider.Load()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	return nil
}

func (a *ConfigAccessor) reset() {
	a.mu.Lock()
	a.cfg = nil
	a.mu.Unlock()
}

func (a *ConfigAccessor) config() *Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.cfg == nil {
		return &Config{}
	}
	return a.cfg
}

// BroadcastConfig returns the broadcast record for id.
func (a *ConfigAccessor) BroadcastConfig(id FreshnessValueId) (BroadcastConfig, error) {
	br, ok := a.config().AuthBroadcast[id]
	if !ok {
		return BroadcastConfig{}, newError("BroadcastConfig", id, ErrFvIdNotFound)
	}
	return br, nil
}

// ChallengeConfig returns the challenge/response record for id.
func (a *ConfigAccessor) ChallengeConfig(id FreshnessValueId) (ChallengeConfig, error) {
	cr, ok := a.config().Challenges[id]
	if !ok {
		return ChallengeConfig{}, newError("ChallengeConfig", id, ErrFvIdNotFound)
	}
	return cr, nil
}

// FreshnessType resolves the configured type of id. Broadcast records take
// precedence over challenge records.
func (a *ConfigAccessor) FreshnessType(id FreshnessValueId) (FreshnessType, error) {
	cfg := a.config()
	if br, ok := cfg.AuthBroadcast[id]; ok {
		return br.Type, nil
	}
	if cr, ok := cfg.Challenges[id]; ok {
		return cr.Type, nil
	}
	return 0, newError("FreshnessType", id, ErrFvIdNotFound)
}

// AllFreshnessValueIds returns every configured id in ascending order.
func (a *ConfigAccessor) AllFreshnessValueIds() []FreshnessValueId {
	ids := lo.Union(a.AuthBroadcastIds(), a.ChallengeIds())
	slices.Sort(ids)
	return ids
}

// AuthBroadcastIds returns the broadcast ids in ascending order.
func (a *ConfigAccessor) AuthBroadcastIds() []FreshnessValueId {
	ids := lo.Keys(a.config().AuthBroadcast)
	slices.Sort(ids)
	return ids
}

// ChallengeIds returns the challenge/response ids in ascending order.
func (a *ConfigAccessor) ChallengeIds() []FreshnessValueId {
	ids := lo.Keys(a.config().Challenges)
	slices.Sort(ids)
	return ids
}

// Clients returns the time server's client map.
func (a *ConfigAccessor) Clients() map[string]ClientConfig {
	return a.config().Clients
}

// KeyConfig returns the id to key id mapping.
func (a *ConfigAccessor) KeyConfig() map[FreshnessValueId]uint16 {
	return a.config().Keys
}

func (a *ConfigAccessor) EcuName() string          { return a.config().EcuName }
func (a *ConfigAccessor) NetworkInterface() string { return a.config().NetworkInterface }

// EcuKeyIDForFvDistribution is the key the participant verifies authentic
// time responses with.
func (a *ConfigAccessor) EcuKeyIDForFvDistribution() uint16 {
	return a.config().KeyIDForAuthFvDistribution
}

func (a *ConfigAccessor) UnauthenticatedFvSignal() SignalConfig {
	return a.config().UnauthFvSignal
}

func (a *ConfigAccessor) AuthenticatedFvValueSignal() SignalConfig {
	return a.config().AuthFvValueSignal
}

func (a *ConfigAccessor) AuthenticatedFvSignatureSignal() SignalConfig {
	return a.config().AuthFvSignatureSignal
}

func (a *ConfigAccessor) AuthenticatedFvChallengeSignal() SignalConfig {
	return a.config().AuthFvChallengeSignal
}
