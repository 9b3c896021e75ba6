package go_fvm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// Freshness configuration file parsing
//
// The configuration is a versioned JSON document. Every top-level section is
// required; unknown fields are rejected; enum values and numeric ranges are
// checked; duplicate ids or client names fail the whole parse. Parse errors
// carry the failing field through oops context and wrap ErrInitializeFailed.

type jsonFrame struct {
	Name                *string `json:"name"`
	MaxPayloadSizeBytes *uint16 `json:"frame_max_payload_size"`
	SourceIP            *string `json:"source_ip"`
	DestinationIP       *string `json:"destination_ip"`
	SourcePort          *uint16 `json:"source_port"`
	DestinationPort     *uint16 `json:"destination_port"`
}

type jsonPdu struct {
	Name        *string `json:"name"`
	ID          *uint32 `json:"pdu_id"`
	LengthBytes *uint32 `json:"length_bytes"`
}

type jsonSignal struct {
	Name         *string `json:"name"`
	StartByte    *uint32 `json:"start_byte"`
	LengthInBits *uint32 `json:"length_in_bits"`
}

type jsonSignalBinding struct {
	Frame  *jsonFrame  `json:"frame_config"`
	Pdu    *jsonPdu    `json:"pdu_config"`
	Signal *jsonSignal `json:"signal_config"`
}

type jsonBroadcast struct {
	FvID                     *uint32 `json:"fv_id"`
	Type                     *string `json:"sok_freshness_type"`
	PduID                    *uint32 `json:"pdu_id"`
	SessionCounterLengthBits *uint32 `json:"session_counter_length_bits"`
}

type jsonChallenge struct {
	FvID   *uint32            `json:"fv_id"`
	Type   *string            `json:"challenge_type"`
	Signal *jsonSignalBinding `json:"signal"`
}

type jsonKey struct {
	FvID  *uint32 `json:"fv_id"`
	KeyID *uint16 `json:"key_id"`
}

type jsonClient struct {
	EcuName         *string            `json:"client_ecu_name"`
	KeyID           *uint16            `json:"key_id"`
	ChallengeSignal *jsonSignalBinding `json:"challenge_signal"`
	ValueSignal     *jsonSignalBinding `json:"response_value_signal"`
	SignatureSignal *jsonSignalBinding `json:"response_signature_signal"`
}

type jsonConfig struct {
	Version               *uint32            `json:"version"`
	NetworkInterface      *string            `json:"network_interface"`
	EcuName               *string            `json:"ecu_name"`
	EcuKeyIDAuthFv        *uint16            `json:"ecu_key_id_auth_fv"`
	AuthBroadcast         []jsonBroadcast    `json:"auth_br_config"`
	ChallengeResponse     []jsonChallenge    `json:"challenge_response_config"`
	UnauthFvSignal        *jsonSignalBinding `json:"unauthenticated_fv_signal_config"`
	AuthFvValueSignal     *jsonSignalBinding `json:"authenticated_fv_value_signal_config"`
	AuthFvSignatureSignal *jsonSignalBinding `json:"authenticated_fv_signature_signal_config"`
	AuthFvChallengeSignal *jsonSignalBinding `json:"authenticated_fv_value_challenge_config"`
	Keys                  []jsonKey          `json:"key_config"`
	Clients               []jsonClient       `json:"clients_signals_config"`
}

// rawSections lists the top-level sections that must be present. Arrays are
// checked here because a missing array and an empty one decode identically.
var rawSections = []string{
	"version",
	"network_interface",
	"ecu_name",
	"ecu_key_id_auth_fv",
	"auth_br_config",
	"challenge_response_config",
	"unauthenticated_fv_signal_config",
	"authenticated_fv_value_signal_config",
	"authenticated_fv_signature_signal_config",
	"authenticated_fv_value_challenge_config",
	"key_config",
	"clients_signals_config",
}

// ParseConfig parses and validates a freshness configuration document.
func ParseConfig(data []byte) (*Config, error) {
	cfg, err := parseConfig(data)
	if err != nil {
		log.WithError(err).Error("Failed to parse freshness configuration")
		return nil, causeError("ParseConfig", 0, ErrInitializeFailed, err)
	}
	return cfg, nil
}

func parseConfig(data []byte) (*Config, error) {
	errb := oops.In("config")
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errb.Errorf("empty configuration document")
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err != nil {
		return nil, errb.Wrapf(err, "configuration is not a JSON object")
	}
	for _, section := range rawSections {
		if _, ok := present[section]; !ok {
			return nil, errb.With("field", section).Errorf("missing required field %q", section)
		}
	}

	var doc jsonConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, errb.Wrapf(err, "configuration does not match schema")
	}

	if doc.Version == nil || doc.NetworkInterface == nil || doc.EcuName == nil || doc.EcuKeyIDAuthFv == nil {
		return nil, errb.Errorf("general attributes must not be null")
	}
	if *doc.Version != SCHEMA_VERSION {
		return nil, errb.With("field", "version").
			Errorf("schema version %d does not match supported version %d", *doc.Version, SCHEMA_VERSION)
	}

	cfg := &Config{
		NetworkInterface:           *doc.NetworkInterface,
		EcuName:                    *doc.EcuName,
		KeyIDForAuthFvDistribution: *doc.EcuKeyIDAuthFv,
		AuthBroadcast:              make(map[FreshnessValueId]BroadcastConfig, len(doc.AuthBroadcast)),
		Challenges:                 make(map[FreshnessValueId]ChallengeConfig, len(doc.ChallengeResponse)),
		Keys:                       make(map[FreshnessValueId]uint16, len(doc.Keys)),
		Clients:                    make(map[string]ClientConfig, len(doc.Clients)),
	}

	for i, br := range doc.AuthBroadcast {
		ctx := errb.With("field", fmt.Sprintf("auth_br_config[%d]", i))
		if br.FvID == nil || br.Type == nil || br.PduID == nil || br.SessionCounterLengthBits == nil {
			return nil, ctx.Errorf("fv_id, sok_freshness_type, pdu_id and session_counter_length_bits are required")
		}
		t, err := parseFreshnessType(*br.Type)
		if err != nil || t > FreshnessValueSessionReceiver {
			return nil, ctx.Errorf("invalid sok_freshness_type %q", *br.Type)
		}
		bits := *br.SessionCounterLengthBits
		if (bits+7)/8 > 255 {
			return nil, ctx.Errorf("session_counter_length_bits %d too large", bits)
		}
		if _, dup := cfg.AuthBroadcast[*br.FvID]; dup {
			return nil, ctx.Errorf("duplicated fv_id %d", *br.FvID)
		}
		cfg.AuthBroadcast[*br.FvID] = BroadcastConfig{
			Type:                 t,
			PduID:                *br.PduID,
			SessionCounterLength: uint8((bits + 7) / 8),
		}
	}

	for i, cr := range doc.ChallengeResponse {
		ctx := errb.With("field", fmt.Sprintf("challenge_response_config[%d]", i))
		if cr.FvID == nil || cr.Type == nil {
			return nil, ctx.Errorf("fv_id and challenge_type are required")
		}
		t, err := parseFreshnessType(*cr.Type)
		if err != nil || (t != FreshnessCrChallenge && t != FreshnessCrResponse) {
			return nil, ctx.Errorf("invalid challenge_type %q", *cr.Type)
		}
		sig, err := cr.Signal.resolve()
		if err != nil {
			return nil, ctx.Wrapf(err, "signal")
		}
		if _, dup := cfg.Challenges[*cr.FvID]; dup {
			return nil, ctx.Errorf("duplicated fv_id %d", *cr.FvID)
		}
		if _, dup := cfg.AuthBroadcast[*cr.FvID]; dup {
			return nil, ctx.Errorf("fv_id %d already configured as broadcast", *cr.FvID)
		}
		cfg.Challenges[*cr.FvID] = ChallengeConfig{Type: t, ChallengeSignal: sig}
	}

	distribution := []struct {
		name string
		src  *jsonSignalBinding
		dst  *SignalConfig
	}{
		{"unauthenticated_fv_signal_config", doc.UnauthFvSignal, &cfg.UnauthFvSignal},
		{"authenticated_fv_value_challenge_config", doc.AuthFvChallengeSignal, &cfg.AuthFvChallengeSignal},
		{"authenticated_fv_value_signal_config", doc.AuthFvValueSignal, &cfg.AuthFvValueSignal},
		{"authenticated_fv_signature_signal_config", doc.AuthFvSignatureSignal, &cfg.AuthFvSignatureSignal},
	}
	for _, d := range distribution {
		sig, err := d.src.resolve()
		if err != nil {
			return nil, errb.With("field", d.name).Wrapf(err, "%s", d.name)
		}
		*d.dst = sig
	}

	for i, k := range doc.Keys {
		ctx := errb.With("field", fmt.Sprintf("key_config[%d]", i))
		if k.FvID == nil || k.KeyID == nil {
			return nil, ctx.Errorf("fv_id and key_id are required")
		}
		if _, dup := cfg.Keys[*k.FvID]; dup {
			return nil, ctx.Errorf("duplicated fv_id %d", *k.FvID)
		}
		cfg.Keys[*k.FvID] = *k.KeyID
	}

	for i, c := range doc.Clients {
		ctx := errb.With("field", fmt.Sprintf("clients_signals_config[%d]", i))
		if c.EcuName == nil || c.KeyID == nil {
			return nil, ctx.Errorf("client_ecu_name and key_id are required")
		}
		var client ClientConfig
		var err error
		client.KeyID = *c.KeyID
		if client.ChallengeSignal, err = c.ChallengeSignal.resolve(); err != nil {
			return nil, ctx.Wrapf(err, "challenge_signal of client %s", *c.EcuName)
		}
		if client.ResponseValueSignal, err = c.ValueSignal.resolve(); err != nil {
			return nil, ctx.Wrapf(err, "response_value_signal of client %s", *c.EcuName)
		}
		if client.ResponseSignatureSignal, err = c.SignatureSignal.resolve(); err != nil {
			return nil, ctx.Wrapf(err, "response_signature_signal of client %s", *c.EcuName)
		}
		if _, dup := cfg.Clients[*c.EcuName]; dup {
			return nil, ctx.Errorf("duplicated client %q", *c.EcuName)
		}
		cfg.Clients[*c.EcuName] = client
	}

	log.WithFields(logger.Fields{
		"ecu":        cfg.EcuName,
		"broadcasts": len(cfg.AuthBroadcast),
		"challenges": len(cfg.Challenges),
		"clients":    len(cfg.Clients),
	}).Debug("Parsed freshness configuration")
	return cfg, nil
}

func (b *jsonSignalBinding) resolve() (SignalConfig, error) {
	errb := oops.In("config")
	if b == nil || b.Frame == nil || b.Pdu == nil || b.Signal == nil {
		return SignalConfig{}, errb.Errorf("frame_config, pdu_config and signal_config are required")
	}
	f, p, s := b.Frame, b.Pdu, b.Signal
	if f.Name == nil || f.MaxPayloadSizeBytes == nil || f.SourceIP == nil ||
		f.DestinationIP == nil || f.SourcePort == nil || f.DestinationPort == nil {
		return SignalConfig{}, errb.With("field", "frame_config").Errorf("incomplete frame_config")
	}
	if p.Name == nil || p.ID == nil || p.LengthBytes == nil {
		return SignalConfig{}, errb.With("field", "pdu_config").Errorf("incomplete pdu_config")
	}
	if s.Name == nil || s.StartByte == nil || s.LengthInBits == nil {
		return SignalConfig{}, errb.With("field", "signal_config").Errorf("incomplete signal_config")
	}
	sig := SignalConfig{
		Frame: FrameConfig{
			Name:                *f.Name,
			MaxPayloadSizeBytes: *f.MaxPayloadSizeBytes,
			SourceIP:            *f.SourceIP,
			DestinationIP:       *f.DestinationIP,
			SourcePort:          *f.SourcePort,
			DestinationPort:     *f.DestinationPort,
		},
		Pdu: PduConfig{
			Name:        *p.Name,
			ID:          *p.ID,
			LengthBytes: *p.LengthBytes,
		},
		Name:         *s.Name,
		StartByte:    *s.StartByte,
		LengthInBits: *s.LengthInBits,
	}
	if sig.Pdu.LengthBytes > 0 && uint64(sig.StartByte)+uint64(sig.LengthBytes()) > uint64(sig.Pdu.LengthBytes) {
		return SignalConfig{}, errb.With("signal", sig.Name).
			Errorf("signal %s exceeds pdu %s", sig.Name, sig.Pdu.Name)
	}
	return sig, nil
}

func parseFreshnessType(s string) (FreshnessType, error) {
	switch s {
	case "FV":
		return FreshnessValue, nil
	case "FV_SESSION_SENDER":
		return FreshnessValueSessionSender, nil
	case "FV_SESSION_RECEIVER":
		return FreshnessValueSessionReceiver, nil
	case "CHALLENGE":
		return FreshnessCrChallenge, nil
	case "RESPONSE":
		return FreshnessCrResponse, nil
	default:
		return 0, fmt.Errorf("unknown freshness type %q", s)
	}
}

// ConfigProvider yields the resolved freshness configuration at Init.
type ConfigProvider interface {
	Load() (*Config, error)
}

// FileConfigProvider reads the configuration from a JSON file on every Load.
type FileConfigProvider struct {
	Path string
}

// Load reads and parses the configuration file.
func (p FileConfigProvider) Load() (*Config, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		log.WithError(err).WithField("path", p.Path).Error("Failed to read freshness configuration")
		return nil, causeError("FileConfigProvider.Load", 0, ErrInitializeFailed, err)
	}
	return ParseConfig(data)
}

// StaticConfigProvider hands out an already resolved configuration.
type StaticConfigProvider struct {
	Config *Config
}

// Load returns the static configuration.
func (p StaticConfigProvider) Load() (*Config, error) {
	if p.Config == nil {
		return nil, newError("StaticConfigProvider.Load", 0, ErrInitializeFailed)
	}
	return p.Config, nil
}
