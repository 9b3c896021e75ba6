package go_fvm

// FreshnessValueId identifies a freshness value. Ids are fixed by the
// configuration; they are looked up, never created at runtime.
type FreshnessValueId = uint32

// PduId identifies a PDU on the vehicle network.
type PduId = uint32

// FreshnessType selects the code path the engine applies to an id.
type FreshnessType uint8

const (
	FreshnessValue FreshnessType = iota
	FreshnessValueSessionSender
	FreshnessValueSessionReceiver
	FreshnessCrChallenge
	FreshnessCrResponse
)

func (t FreshnessType) String() string {
	switch t {
	case FreshnessValue:
		return "FV"
	case FreshnessValueSessionSender:
		return "FV_SESSION_SENDER"
	case FreshnessValueSessionReceiver:
		return "FV_SESSION_RECEIVER"
	case FreshnessCrChallenge:
		return "CHALLENGE"
	case FreshnessCrResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// VerificationStatus is reported by the message-authentication layer after
// every verification attempt.
type VerificationStatus struct {
	FvID      FreshnessValueId
	Succeeded bool
}

// ChallengeReceivedCallback is invoked when a challenge for a CR response id
// arrives. It runs on the transport's delivery goroutine and must not block.
type ChallengeReceivedCallback func(id FreshnessValueId)

// FrameConfig describes an Ethernet frame carrying PDUs.
type FrameConfig struct {
	Name                string `json:"name"`
	MaxPayloadSizeBytes uint16 `json:"frame_max_payload_size"`
	SourceIP            string `json:"source_ip"`
	DestinationIP       string `json:"destination_ip"`
	SourcePort          uint16 `json:"source_port"`
	DestinationPort     uint16 `json:"destination_port"`
}

// PduConfig describes a PDU inside a frame.
type PduConfig struct {
	Name        string `json:"name"`
	ID          PduId  `json:"pdu_id"`
	LengthBytes uint32 `json:"length_bytes"`
}

// SignalConfig binds a named signal to its position inside a PDU.
type SignalConfig struct {
	Frame        FrameConfig
	Pdu          PduConfig
	Name         string
	StartByte    uint32
	LengthInBits uint32
}

// LengthBytes returns the signal width rounded up to whole bytes.
func (s SignalConfig) LengthBytes() int {
	return int((s.LengthInBits + 7) / 8)
}

// ChallengeConfig is the configuration of a challenge/response id.
type ChallengeConfig struct {
	Type            FreshnessType
	ChallengeSignal SignalConfig
}

// BroadcastConfig is the configuration of an authentic broadcast id.
type BroadcastConfig struct {
	Type  FreshnessType
	PduID PduId
	// SessionCounterLength is in bytes; zero disables the session counter.
	SessionCounterLength uint8
}

// ClientConfig is held by the time server for every participant it serves.
type ClientConfig struct {
	ChallengeSignal         SignalConfig
	ResponseValueSignal     SignalConfig
	ResponseSignatureSignal SignalConfig
	KeyID                   uint16
}

// Config is the resolved freshness value manager configuration.
type Config struct {
	NetworkInterface           string
	EcuName                    string
	KeyIDForAuthFvDistribution uint16
	AuthBroadcast              map[FreshnessValueId]BroadcastConfig
	Challenges                 map[FreshnessValueId]ChallengeConfig
	Keys                       map[FreshnessValueId]uint16
	Clients                    map[string]ClientConfig
	UnauthFvSignal             SignalConfig
	AuthFvChallengeSignal      SignalConfig
	AuthFvValueSignal          SignalConfig
	AuthFvSignatureSignal      SignalConfig
}
