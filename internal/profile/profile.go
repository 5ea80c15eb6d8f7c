// Package profile holds the device profile data model that configures a
// softphone session. It is immutable for the lifetime of a session: the
// host builds one, typically from CUCM UDS discovery output (out of scope
// for this module) or from static configuration, and hands it to the
// engine.
package profile

import "fmt"

// SecurityMode selects the SIP transport and certificate requirements for
// the device's line.
type SecurityMode string

const (
	SecurityNone          SecurityMode = "none"
	SecurityAuthenticated SecurityMode = "authenticated"
	SecurityEncrypted     SecurityMode = "encrypted"
)

// CAPFServer is one candidate CAPF server to try during certificate
// provisioning: the CAPF exchange runs against each server in turn until
// one succeeds.
type CAPFServer struct {
	Host string `profile:"host"`
	Port int    `profile:"port"` // defaults to 3804 if zero
}

// Device is the immutable device profile input to the engine.
type Device struct {
	CUCMHost string `profile:"cucm_host"`
	SIPPort  int    `profile:"sip_port"`
	SIPSPort int    `profile:"sips_port"`

	LineNumber  string `profile:"line_number"`
	DisplayName string `profile:"display_name"`
	DeviceName  string `profile:"device_name"`
	ContactID   string `profile:"contact_id"`

	SecurityMode    SecurityMode `profile:"security_mode"`
	ExpectedCertMD5 string       `profile:"expected_cert_md5"` // lowercased hex over DER, empty if unknown
	CAPFServers     []CAPFServer `profile:"capf_servers"`

	// VerifyHostname controls TLS server-certificate hostname verification
	// for both the SIP/TLS and CAPF/TLS connections. Disabling this
	// blindly trusts whatever certificate the server presents, so it
	// defaults true (verify) and the host must opt out explicitly.
	VerifyHostname bool `profile:"verify_hostname"`

	// CertDir is where issued CAPF certificates are persisted and where
	// the engine looks for an existing client certificate before running
	// CAPF.
	CertDir string `profile:"cert_dir"`

	// ServerCertDir holds additional trusted CA certificates for verifying
	// CUCM's server certificate, supplementing the process default trust
	// store.
	ServerCertDir string `profile:"server_cert_dir"`
}

// Validate checks the minimal set of fields the engine needs to start a
// session, including the fields security_mode requires.
func (d Device) Validate() error {
	if d.CUCMHost == "" {
		return fmt.Errorf("device profile: cucm_host is required")
	}
	if d.LineNumber == "" {
		return fmt.Errorf("device profile: line_number is required")
	}
	if d.DeviceName == "" {
		return fmt.Errorf("device profile: device_name is required")
	}
	switch d.SecurityMode {
	case SecurityNone:
		if d.SIPPort == 0 {
			return fmt.Errorf("device profile: sip_port is required for security_mode=none")
		}
	case SecurityAuthenticated, SecurityEncrypted:
		if d.SIPSPort == 0 {
			return fmt.Errorf("device profile: sips_port is required for security_mode=%s", d.SecurityMode)
		}
		if len(d.CAPFServers) == 0 && d.ExpectedCertMD5 == "" {
			return fmt.Errorf("device profile: security_mode=%s requires expected_cert_md5 or at least one CAPF server", d.SecurityMode)
		}
	default:
		return fmt.Errorf("device profile: invalid security_mode %q", d.SecurityMode)
	}
	return nil
}

// FromMap decodes a generic configuration document (as handed in by a UDS
// discovery client or a config file loader, both out of scope for this
// module) into a Device. This is the boundary most host integrations use:
// UDS responses and on-disk profile files naturally arrive as
// map[string]any after JSON/XML decoding.
func FromMap(m map[string]any) (Device, error) {
	var d Device
	if err := decodeDevice(m, &d); err != nil {
		return Device{}, fmt.Errorf("decoding device profile: %w", err)
	}
	if d.SecurityMode == "" {
		d.SecurityMode = SecurityNone
	}
	if _, ok := m["verify_hostname"]; !ok {
		d.VerifyHostname = true
	}
	return d, nil
}
