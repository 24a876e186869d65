package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/highwaypatrol/passage-core/pkg/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ProgramConfig is the enumerated configuration of §6: sync/scan intervals,
// retry/fallback thresholds, pull paging, clock skew tolerance, and the SMS
// deployment secrets. Durations are stored as Go duration strings in the
// JSON file and parsed once at load time.
type ProgramConfig struct {
	Addr   string `json:"addr"`
	// User/Group are dropped to after the listener binds, so the process
	// never needs root beyond acquiring a privileged port.
	User     string `json:"user"`
	Group    string `json:"group"`
	DBDriver string `json:"dbDriver"`
	DB       string `json:"db"`

	SyncInterval        string `json:"syncInterval"`
	SMSFallbackAge       string `json:"smsFallbackAge"`
	MaxSyncAttempts      int    `json:"maxSyncAttempts"`
	OverstayScanInterval string `json:"overstayScanInterval"`
	// PullLookbackBuffer is only the margin added on top of a segment's own
	// max travel time (§6 "pull_lookback = max_travel_time + buffer"); the
	// per-segment part is resolved at pull time, not stored here.
	PullLookbackBuffer   string `json:"pullLookbackBuffer"`
	PullLimit            int    `json:"pullLimit"`
	ClockSkewTolerance   string `json:"clockSkewTolerance"`

	SMSGatewayNumber string `json:"smsGatewayNumber"`
	SMSWebhookURL    string `json:"smsWebhookUrl"`
	// SMSAuthSecret is read from the SMS_AUTH_SECRET environment variable,
	// never from the config file, so it never lands in a committed file.
	SMSAuthSecret string `json:"-"`
}

// Keys holds the effective configuration for the running process. It is a
// package-level var, mirroring the teacher's convention of a single
// process-wide config instance populated once at startup and read by
// value everywhere else.
var Keys = ProgramConfig{
	Addr:                 ":8080",
	DBDriver:             "sqlite3",
	DB:                   "./var/passages.db",
	SyncInterval:         "30s",
	SMSFallbackAge:       "5m",
	MaxSyncAttempts:      5,
	OverstayScanInterval: "15m",
	PullLookbackBuffer:   "30m",
	PullLimit:            500,
	ClockSkewTolerance:   "2m",
}

//go:embed schemas/*
var schemaFiles embed.FS

func loadSchema(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = loadSchema
}

// Init reads and validates an optional JSON config file at flagConfigFile,
// overriding the defaults in Keys. A missing file is not an error (the
// defaults above are a fully functional configuration); a malformed or
// schema-invalid file aborts startup.
func Init(flagConfigFile string) {
	if flagConfigFile == "" {
		applyEnv()
		return
	}

	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv()
			return
		}
		log.Fatalf("config: reading %s: %s", flagConfigFile, err)
	}

	s, err := jsonschema.Compile("embedFS://schemas/config.schema.json")
	if err != nil {
		log.Fatalf("config: compiling schema: %s", err)
	}

	var v interface{}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&v); err != nil {
		log.Fatalf("config: decoding %s: %s", flagConfigFile, err)
	}
	if err := s.Validate(v); err != nil {
		log.Fatalf("config: %s does not satisfy schema: %s", flagConfigFile, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		log.Fatalf("config: decoding %s into ProgramConfig: %s", flagConfigFile, err)
	}

	applyEnv()
}

func applyEnv() {
	if v := os.Getenv("SMS_AUTH_SECRET"); v != "" {
		Keys.SMSAuthSecret = v
	}
}

// Duration helpers translate the enumerated config strings into
// time.Duration once, at the call sites that need them, instead of
// parsing them over and over in hot paths.

func (c ProgramConfig) SyncIntervalDuration() time.Duration {
	return mustParseDuration("syncInterval", c.SyncInterval)
}

func (c ProgramConfig) SMSFallbackAgeDuration() time.Duration {
	return mustParseDuration("smsFallbackAge", c.SMSFallbackAge)
}

func (c ProgramConfig) OverstayScanIntervalDuration() time.Duration {
	return mustParseDuration("overstayScanInterval", c.OverstayScanInterval)
}

// PullLookbackBufferDuration is the buffer component only; callers must
// add the target segment's own MaxTravelTimeMinutes to get the full
// pull_lookback window (§6).
func (c ProgramConfig) PullLookbackBufferDuration() time.Duration {
	return mustParseDuration("pullLookbackBuffer", c.PullLookbackBuffer)
}

func (c ProgramConfig) ClockSkewToleranceDuration() time.Duration {
	return mustParseDuration("clockSkewTolerance", c.ClockSkewTolerance)
}

func mustParseDuration(field, s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("config: %s: could not parse duration %q: %s", field, s, fmt.Sprint(err))
	}
	return d
}
