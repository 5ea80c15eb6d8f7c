// Package config loads the process-level settings a host binary needs to
// start a softphone session: where to reach CUCM, which line to register,
// security mode, certificate directories, and logging. The device profile
// data model itself lives in internal/profile; this package is just the
// flag/env-driven loader that builds one.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/csfua/softphone/internal/profile"
)

// Config holds all runtime configuration for the csfphone host.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	CUCMHost string
	SIPPort  int
	SIPSPort int

	LineNumber  string
	DisplayName string
	DeviceName  string
	ContactID   string

	SecurityMode    string
	ExpectedCertMD5 string
	CAPFHost        string
	CAPFPort        int

	VerifyHostname bool
	CertDir        string
	ServerCertDir  string

	LogLevel  string
	LogFormat string
	SIPTrace  string // off, headers, full
}

const (
	defaultSIPPort   = 5060
	defaultSIPSPort  = 5061
	defaultCAPFPort  = 3804
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	defaultSIPTrace  = "off"
)

// envPrefix is the prefix for all csfphone environment variables.
const envPrefix = "CSFPHONE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("csfphone", flag.ContinueOnError)

	fs.StringVar(&cfg.CUCMHost, "cucm-host", "", "Cisco Unified Communications Manager hostname or IP")
	fs.IntVar(&cfg.SIPPort, "sip-port", defaultSIPPort, "CUCM SIP TCP port (security_mode=none)")
	fs.IntVar(&cfg.SIPSPort, "sips-port", defaultSIPSPort, "CUCM SIP TLS port (security_mode=authenticated|encrypted)")
	fs.StringVar(&cfg.LineNumber, "line-number", "", "directory number to register")
	fs.StringVar(&cfg.DisplayName, "display-name", "", "caller display name for outgoing calls")
	fs.StringVar(&cfg.DeviceName, "device-name", "", "CUCM device name (e.g. CSFJDOE)")
	fs.StringVar(&cfg.ContactID, "contact-id", "", "Contact header user part; defaults to line-number if empty")
	fs.StringVar(&cfg.SecurityMode, "security-mode", "none", "device security mode: none, authenticated, encrypted")
	fs.StringVar(&cfg.ExpectedCertMD5, "expected-cert-md5", "", "expected lowercase hex MD5 of the CAPF-issued client certificate")
	fs.StringVar(&cfg.CAPFHost, "capf-host", "", "CAPF server hostname or IP (defaults to cucm-host)")
	fs.IntVar(&cfg.CAPFPort, "capf-port", defaultCAPFPort, "CAPF server TLS port")
	fs.BoolVar(&cfg.VerifyHostname, "verify-hostname", true, "verify TLS server certificate hostname for SIP and CAPF connections")
	fs.StringVar(&cfg.CertDir, "cert-dir", "./certs/client", "directory for the CAPF-issued client certificate")
	fs.StringVar(&cfg.ServerCertDir, "server-cert-dir", "", "directory of additional trusted CA certificates for CUCM's server certificate")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.SIPTrace, "sip-trace", defaultSIPTrace, "raw SIP message tracing verbosity (off, headers, full)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if cfg.ContactID == "" {
		cfg.ContactID = cfg.LineNumber
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"cucm-host":         envPrefix + "CUCM_HOST",
		"sip-port":          envPrefix + "SIP_PORT",
		"sips-port":         envPrefix + "SIPS_PORT",
		"line-number":       envPrefix + "LINE_NUMBER",
		"display-name":      envPrefix + "DISPLAY_NAME",
		"device-name":       envPrefix + "DEVICE_NAME",
		"contact-id":        envPrefix + "CONTACT_ID",
		"security-mode":     envPrefix + "SECURITY_MODE",
		"expected-cert-md5": envPrefix + "EXPECTED_CERT_MD5",
		"capf-host":         envPrefix + "CAPF_HOST",
		"capf-port":         envPrefix + "CAPF_PORT",
		"verify-hostname":   envPrefix + "VERIFY_HOSTNAME",
		"cert-dir":          envPrefix + "CERT_DIR",
		"server-cert-dir":   envPrefix + "SERVER_CERT_DIR",
		"log-level":         envPrefix + "LOG_LEVEL",
		"log-format":        envPrefix + "LOG_FORMAT",
		"sip-trace":         envPrefix + "SIP_TRACE",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "cucm-host":
			cfg.CUCMHost = val
		case "sip-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPPort = v
			}
		case "sips-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPSPort = v
			}
		case "line-number":
			cfg.LineNumber = val
		case "display-name":
			cfg.DisplayName = val
		case "device-name":
			cfg.DeviceName = val
		case "contact-id":
			cfg.ContactID = val
		case "security-mode":
			cfg.SecurityMode = val
		case "expected-cert-md5":
			cfg.ExpectedCertMD5 = val
		case "capf-host":
			cfg.CAPFHost = val
		case "capf-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.CAPFPort = v
			}
		case "verify-hostname":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.VerifyHostname = v
			}
		case "cert-dir":
			cfg.CertDir = val
		case "server-cert-dir":
			cfg.ServerCertDir = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "sip-trace":
			cfg.SIPTrace = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.CUCMHost == "" {
		return fmt.Errorf("cucm-host is required")
	}
	if c.LineNumber == "" {
		return fmt.Errorf("line-number is required")
	}
	if c.DeviceName == "" {
		return fmt.Errorf("device-name is required")
	}
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		return fmt.Errorf("sip-port must be between 1 and 65535, got %d", c.SIPPort)
	}
	if c.SIPSPort < 1 || c.SIPSPort > 65535 {
		return fmt.Errorf("sips-port must be between 1 and 65535, got %d", c.SIPSPort)
	}

	switch profile.SecurityMode(strings.ToLower(c.SecurityMode)) {
	case profile.SecurityNone, profile.SecurityAuthenticated, profile.SecurityEncrypted:
		c.SecurityMode = strings.ToLower(c.SecurityMode)
	default:
		return fmt.Errorf("security-mode must be one of none, authenticated, encrypted; got %q", c.SecurityMode)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.CAPFHost == "" {
		c.CAPFHost = c.CUCMHost
	}

	return nil
}

// Device builds the immutable device profile this config describes.
func (c *Config) Device() profile.Device {
	d := profile.Device{
		CUCMHost:        c.CUCMHost,
		SIPPort:         c.SIPPort,
		SIPSPort:        c.SIPSPort,
		LineNumber:      c.LineNumber,
		DisplayName:     c.DisplayName,
		DeviceName:      c.DeviceName,
		ContactID:       c.ContactID,
		SecurityMode:    profile.SecurityMode(c.SecurityMode),
		ExpectedCertMD5: c.ExpectedCertMD5,
		VerifyHostname:  c.VerifyHostname,
		CertDir:         c.CertDir,
		ServerCertDir:   c.ServerCertDir,
	}
	if d.SecurityMode != profile.SecurityNone {
		d.CAPFServers = []profile.CAPFServer{{Host: c.CAPFHost, Port: c.CAPFPort}}
	}
	return d
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
