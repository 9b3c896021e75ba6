package go_fvm

// SOK Freshness Value Manager Constants
//
// Timing values are in milliseconds and mirror the SOK time protocol
// parameters. They are the defaults used by DefaultTimings(); a daemon may
// override them, but every participant and the time server on one network
// must agree on SOK_FM_TIME_INCREMENT_PERIOD_MS.

// Freshness value sentinels
const (
	// SOK_UPSTART_TIME is handed out while no authentic time is known but the
	// valid-timeout grace period has not yet expired.
	SOK_UPSTART_TIME uint64 = 0xFFFFFFFFFFFFFF

	// SOK_INVALID_TIME is handed out for signing once the grace period expired
	// and there is still no authentic time.
	SOK_INVALID_TIME uint64 = 0xF00000000000
)

// Timing Constants
const (
	SOK_FM_MAIN_FUNCTION_PERIOD_MS  = 5    // MainFunction calling period
	SOK_FM_TIME_INCREMENT_PERIOD_MS = 100  // one SOK time tick
	SOK_FM_TIME_VALID_TIMEOUT_MS    = 500  // grace period for the upstart value
	SOK_FM_TIME_JITTER_MAX_MS       = 30   // max deviation from the server broadcast
	SOK_FM_TIME_REQUEST_TIMEOUT_MS  = 250  // wait for an authentic time response
	SOK_FM_CHALLENGE_TIMEOUT_MS     = 250  // a challenge may remain pending this long
	SOK_FM_TIME_SEND_MS             = 1000 // unauthenticated broadcast period
)

// Protocol sizes
const (
	MAX_VERIFY_ATTEMPTS_CR_TYPE = 1
	MAX_VERIFY_ATTEMPTS_FV_TYPE = 4

	AUTH_FV_SIGNATURE_SIZE_BYTES       = 8
	CHALLENGE_LENGTH_BYTES             = 8
	FVM_SERVER_NUM_OF_BYTES_INITIAL_FV = 7
	FRESHNESS_VALUE_SIZE_BYTES         = 8
)

// SCHEMA_VERSION is the freshness configuration schema version this module
// understands. Any other value in a config file is rejected.
const SCHEMA_VERSION = 1

// Logger Level Constants
const (
	DEBUG   = 1 << 4
	INFO    = 1 << 5
	WARNING = 1 << 6
	ERROR   = 1 << 7
	FATAL   = 1 << 8
)

// clientChallengeSignalPattern extracts the client ECU name from the
// challenge signal names a time server subscribes to.
const clientChallengeSignalPattern = `SOK_Zeit_(\w+)_Challenge`

// Timings groups the protocol timing parameters in milliseconds.
type Timings struct {
	MainFunctionPeriodMs uint64
	IncrementPeriodMs    uint64
	ValidTimeoutMs       uint64
	JitterMaxMs          uint64
	RequestTimeoutMs     uint64
	ChallengeTimeoutMs   uint64
	SendPeriodMs         uint64
}

// DefaultTimings returns the SOK protocol default timings.
func DefaultTimings() Timings {
	return Timings{
		MainFunctionPeriodMs: SOK_FM_MAIN_FUNCTION_PERIOD_MS,
		IncrementPeriodMs:    SOK_FM_TIME_INCREMENT_PERIOD_MS,
		ValidTimeoutMs:       SOK_FM_TIME_VALID_TIMEOUT_MS,
		JitterMaxMs:          SOK_FM_TIME_JITTER_MAX_MS,
		RequestTimeoutMs:     SOK_FM_TIME_REQUEST_TIMEOUT_MS,
		ChallengeTimeoutMs:   SOK_FM_CHALLENGE_TIMEOUT_MS,
		SendPeriodMs:         SOK_FM_TIME_SEND_MS,
	}
}

// validate rejects timings that would stall the tick arithmetic.
func (t Timings) validate() error {
	if t.MainFunctionPeriodMs == 0 {
		return newError("Timings.validate", 0, ErrInitializeFailed)
	}
	if t.IncrementPeriodMs == 0 || t.IncrementPeriodMs%t.MainFunctionPeriodMs != 0 {
		return newError("Timings.validate", 0, ErrInitializeFailed)
	}
	if t.SendPeriodMs == 0 || t.SendPeriodMs%t.MainFunctionPeriodMs != 0 {
		return newError("Timings.validate", 0, ErrInitializeFailed)
	}
	return nil
}
