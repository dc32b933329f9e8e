package infra

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCode is the machine-readable taxonomy rendered to HTTP callers.
type ErrorCode string

const (
	CodeBadRequest      ErrorCode = "bad_request"
	CodeUnauthorized    ErrorCode = "unauthorized"
	CodeNotFound        ErrorCode = "not_found"
	CodePayloadTooLarge ErrorCode = "payload_too_large"
	CodeUpstream        ErrorCode = "upstream_failure"
	CodeDNSFailure      ErrorCode = "dns_failure"
	CodeTLSFailure      ErrorCode = "tls_failure"
	CodeInternal        ErrorCode = "internal"
)

// ClassifyConnectivity walks an error chain looking for DNS resolution and
// TLS certificate failures and rewrites them into operator-facing messages
// with dedicated codes. Everything else maps to CodeInternal unchanged.
func ClassifyConnectivity(err error) (ErrorCode, string) {
	if err == nil {
		return CodeInternal, ""
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeDNSFailure, fmt.Sprintf(
			"cannot resolve host %q; check the configured endpoint and network egress", dnsErr.Name)
	}
	var certErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return CodeTLSFailure, "TLS certificate from the remote host is not trusted; check CA bundle and clock"
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return CodeTLSFailure, fmt.Sprintf(
			"TLS certificate does not match host %q; the endpoint may be misconfigured", hostErr.Host)
	}
	// Some drivers flatten causes into the message, so fall back to a
	// substring scan over the whole chain.
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		switch {
		case strings.Contains(msg, "no such host"):
			return CodeDNSFailure, "cannot resolve a dependency host; check DATABASE_URL and provider endpoints"
		case strings.Contains(msg, "certificate"):
			return CodeTLSFailure, "TLS handshake with a dependency failed; check certificates and system time"
		}
	}
	return CodeInternal, "internal error"
}
