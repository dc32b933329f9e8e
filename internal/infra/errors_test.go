package infra

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestClassifyConnectivityDNS(t *testing.T) {
	err := fmt.Errorf("connect database: %w", &net.DNSError{Err: "no such host", Name: "db.internal"})
	code, msg := ClassifyConnectivity(err)
	if code != CodeDNSFailure {
		t.Fatalf("code = %s, want %s", code, CodeDNSFailure)
	}
	if !strings.Contains(msg, "db.internal") {
		t.Fatalf("message %q should name the unresolvable host", msg)
	}
}

func TestClassifyConnectivityTLS(t *testing.T) {
	err := fmt.Errorf("provider call: %w", x509.HostnameError{Host: "api.example"})
	code, msg := ClassifyConnectivity(err)
	if code != CodeTLSFailure {
		t.Fatalf("code = %s, want %s", code, CodeTLSFailure)
	}
	if !strings.Contains(msg, "api.example") {
		t.Fatalf("message %q should name the mismatched host", msg)
	}
}

func TestClassifyConnectivityFallbackSubstring(t *testing.T) {
	err := errors.New("dial tcp: lookup db.internal: no such host")
	code, _ := ClassifyConnectivity(err)
	if code != CodeDNSFailure {
		t.Fatalf("code = %s, want %s", code, CodeDNSFailure)
	}
}

func TestClassifyConnectivityGeneric(t *testing.T) {
	code, _ := ClassifyConnectivity(errors.New("boom"))
	if code != CodeInternal {
		t.Fatalf("code = %s, want %s", code, CodeInternal)
	}
}
