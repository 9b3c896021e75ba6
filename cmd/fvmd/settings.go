package main

import (
	"fmt"
	"strings"
	"time"

	fvm "github.com/go-sok/go-fvm"
	"gopkg.in/ini.v1"
)

// settings is the daemon configuration read from fvmd.ini.
type settings struct {
	role       fvm.Role
	configPath string
	keysPath   string
	logLevel   int

	timings fvm.Timings

	listen string

	diagnosticsListen string
	trace             bool

	initRetries int
	initBackoff time.Duration
}

var logLevels = map[string]int{
	"debug":   fvm.DEBUG,
	"info":    fvm.INFO,
	"warning": fvm.WARNING,
	"warn":    fvm.WARNING,
	"error":   fvm.ERROR,
	"fatal":   fvm.FATAL,
}

func loadSettings(path string) (*settings, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", path, err)
	}
	return parseSettings(f)
}

func parseSettings(f *ini.File) (*settings, error) {
	str := func(section, key, def string) string {
		return f.Section(section).Key(key).MustString(def)
	}
	ms := func(section, key string, def uint64) uint64 {
		return f.Section(section).Key(key).MustUint64(def)
	}

	s := &settings{
		configPath:        str("fvm", "config", "fvm_config.json"),
		keysPath:          str("fvm", "keys", "keys.ini"),
		listen:            str("transport", "listen", "0.0.0.0:30491"),
		diagnosticsListen: str("diagnostics", "listen", ""),
		trace:             f.Section("diagnostics").Key("trace").MustBool(false),
		initRetries:       f.Section("init").Key("retries").MustInt(-1),
		initBackoff:       time.Duration(f.Section("init").Key("backoff_ms").MustInt(100)) * time.Millisecond,
	}

	role, err := fvm.ParseRole(str("fvm", "role", "participant"))
	if err != nil {
		return nil, err
	}
	s.role = role

	level := strings.ToLower(str("fvm", "log_level", "info"))
	lvl, ok := logLevels[level]
	if !ok {
		return nil, fmt.Errorf("unknown log_level %q", level)
	}
	s.logLevel = lvl

	def := fvm.DefaultTimings()
	s.timings = fvm.Timings{
		MainFunctionPeriodMs: ms("timing", "main_period_ms", def.MainFunctionPeriodMs),
		IncrementPeriodMs:    ms("timing", "increment_period_ms", def.IncrementPeriodMs),
		ValidTimeoutMs:       ms("timing", "valid_timeout_ms", def.ValidTimeoutMs),
		JitterMaxMs:          ms("timing", "jitter_max_ms", def.JitterMaxMs),
		RequestTimeoutMs:     ms("timing", "request_timeout_ms", def.RequestTimeoutMs),
		ChallengeTimeoutMs:   ms("timing", "challenge_timeout_ms", def.ChallengeTimeoutMs),
		SendPeriodMs:         ms("timing", "send_period_ms", def.SendPeriodMs),
	}
	if s.initBackoff <= 0 {
		return nil, fmt.Errorf("init backoff_ms must be positive")
	}
	return s, nil
}
