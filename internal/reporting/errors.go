package reporting

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrNotAuthenticated is returned before any request when no access token
// is stored.
var ErrNotAuthenticated = errors.New("reporting: not authenticated")

const notAuthenticatedMessage = "Please log in to DrSprinto to continue."

// CertificateError is a TLS verification failure. It is never retried.
type CertificateError struct {
	Err error
}

func (e *CertificateError) Error() string { return "certificate verification failed: " + e.Err.Error() }
func (e *CertificateError) Unwrap() error { return e.Err }

func (e *CertificateError) UserMessage() string {
	return "DrSprinto could not verify the Sprinto server certificate. " +
		"If your network uses a corporate proxy, install its root certificate " +
		"and point extra_ca_file (or SSL_CERT_FILE) at the PEM file."
}

// HTTPError is a non-2xx answer.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("HTTP error %d", e.Status) }

func (e *HTTPError) UserMessage() string {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return "Your DrSprinto session has expired. " + notAuthenticatedMessage
	case e.Status >= 500:
		return "Sprinto servers are having trouble right now. DrSprinto will try again later."
	default:
		return fmt.Sprintf("Sprinto servers rejected the request (status %d).", e.Status)
	}
}

// TransientError is a network failure that persisted through every retry.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("network error after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) UserMessage() string {
	if isTimeout(e.Err) {
		return "Sprinto servers took too long to answer. Check your network connection."
	}
	return "DrSprinto could not reach Sprinto servers. Check your network connection."
}

// ResponseError is a 2xx answer that could not be decoded.
type ResponseError struct {
	Err error
}

func (e *ResponseError) Error() string { return "malformed response: " + e.Err.Error() }
func (e *ResponseError) Unwrap() error { return e.Err }

func (e *ResponseError) UserMessage() string {
	return "Sprinto servers sent an unexpected response."
}

// UserMessage describes err for the person at the device.
func UserMessage(err error) string {
	if errors.Is(err, ErrNotAuthenticated) {
		return notAuthenticatedMessage
	}
	var u interface{ UserMessage() string }
	if errors.As(err, &u) {
		return u.UserMessage()
	}
	return "Something went wrong while talking to Sprinto servers."
}

// Outcome is a short label for metrics.
func Outcome(err error) string {
	var (
		certErr  *CertificateError
		httpErr  *HTTPError
		transErr *TransientError
		respErr  *ResponseError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.As(err, &certErr):
		return "certificate"
	case errors.As(err, &httpErr):
		return "http"
	case errors.As(err, &transErr):
		return "transient"
	case errors.As(err, &respErr):
		return "response"
	default:
		return "error"
	}
}

func isCertificate(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalid          x509.CertificateInvalidError
		hostname         x509.HostnameError
		verification     *tls.CertificateVerificationError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalid) ||
		errors.As(err, &hostname) ||
		errors.As(err, &verification)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isTransient covers DNS failures, refused and reset connections, and
// timeouts.
func isTransient(err error) bool {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	default:
		return isTimeout(err)
	}
}
