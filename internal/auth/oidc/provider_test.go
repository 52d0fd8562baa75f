package oidc

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"

	"github.com/docgate/docgate/internal/auth"
	"github.com/docgate/docgate/internal/config"
)

func TestNewOIDCVerifier_MissingIssuerURL(t *testing.T) {
	_, err := NewOIDCVerifier(&config.OIDCConfig{
		IssuerURL: "",
		ClientID:  "client",
	})
	if err == nil {
		t.Error("expected error for missing IssuerURL, got nil")
	}
}

func TestNewOIDCVerifier_MissingClientID(t *testing.T) {
	_, err := NewOIDCVerifier(&config.OIDCConfig{
		IssuerURL: "https://issuer.example.com",
		ClientID:  "",
	})
	if err == nil {
		t.Error("expected error for missing ClientID, got nil")
	}
}

func TestNewOIDCVerifier_UnreachableIssuer(t *testing.T) {
	// Port 1: always refused immediately, so discovery fails without a timeout.
	_, err := NewOIDCVerifierWithContext(context.Background(), &config.OIDCConfig{
		IssuerURL: "http://127.0.0.1:1",
		ClientID:  "client",
	})
	if err == nil {
		t.Error("expected error for unreachable issuer, got nil")
	}
}

func TestNewOIDCVerifier_CanceledDiscovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOIDCVerifierWithContext(ctx, &config.OIDCConfig{
		IssuerURL: "https://issuer.example.com",
		ClientID:  "client",
	})
	if err == nil {
		t.Error("expected error for canceled discovery context, got nil")
	}
}

// ---------------------------------------------------------------------------
// classifyProviderError
// ---------------------------------------------------------------------------

func TestClassifyProviderError_Timeout(t *testing.T) {
	err := classifyProviderError(context.DeadlineExceeded)
	if !errors.Is(err, auth.ErrProviderUnavailable) {
		t.Errorf("classifyProviderError(DeadlineExceeded) = %v, want ErrProviderUnavailable", err)
	}
}

func TestClassifyProviderError_Canceled(t *testing.T) {
	err := classifyProviderError(context.Canceled)
	if !errors.Is(err, auth.ErrProviderUnavailable) {
		t.Errorf("classifyProviderError(Canceled) = %v, want ErrProviderUnavailable", err)
	}
}

func TestClassifyProviderError_URLError(t *testing.T) {
	cause := &url.Error{Op: "Get", URL: "https://issuer.example.com/keys", Err: errors.New("connection refused")}
	err := classifyProviderError(cause)
	if !errors.Is(err, auth.ErrProviderUnavailable) {
		t.Errorf("classifyProviderError(url.Error) = %v, want ErrProviderUnavailable", err)
	}
	// The transport cause stays reachable for logging.
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		t.Error("classified error lost the underlying *url.Error")
	}
}

func TestClassifyProviderError_NetError(t *testing.T) {
	cause := &net.DNSError{Err: "no such host", Name: "issuer.example.com", IsNotFound: true}
	err := classifyProviderError(cause)
	if !errors.Is(err, auth.ErrProviderUnavailable) {
		t.Errorf("classifyProviderError(net.Error) = %v, want ErrProviderUnavailable", err)
	}
}

func TestClassifyProviderError_VerificationFailure(t *testing.T) {
	err := classifyProviderError(errors.New("oidc: id token issued by a different provider"))
	if !errors.Is(err, auth.ErrInvalidCredential) {
		t.Errorf("classifyProviderError(verification) = %v, want ErrInvalidCredential", err)
	}
	if errors.Is(err, auth.ErrProviderUnavailable) {
		t.Error("verification failure misclassified as provider unavailability")
	}
}
