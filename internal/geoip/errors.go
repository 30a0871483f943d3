package geoip

import (
	"errors"
	"fmt"
)

// Lookup failure classes
// Callers match them with errors.Is; the concrete error is always a *LookupError
var (
	// ErrInvalidIP means the input is not an IPv4/IPv6 literal
	ErrInvalidIP = errors.New("invalid IP address format")

	// ErrUnresolvable means no usable consensus could be formed
	ErrUnresolvable = errors.New("unresolvable geoip")

	// ErrAmbiguousMatch means the authoritative sources disagree on the network
	// and nothing corroborates either of them
	ErrAmbiguousMatch = errors.New("ambiguous geoip match")

	// ErrAnonymizerDetected means the IP belongs to a VPN, Tor exit or similar proxy
	ErrAnonymizerDetected = errors.New("vpn detected")
)

// LookupError ties a failure class to the IP that caused it
type LookupError struct {
	IP  string
	Err error
}

// Error renders "unresolvable geoip: <ip>" style messages
// Anonymizer rejections never echo the IP back
func (e *LookupError) Error() string {
	if errors.Is(e.Err, ErrAnonymizerDetected) {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.IP)
}

// Unwrap exposes the failure class to errors.Is
func (e *LookupError) Unwrap() error {
	return e.Err
}

func newLookupError(ip string, err error) *LookupError {
	return &LookupError{IP: ip, Err: err}
}
