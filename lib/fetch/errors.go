package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// ErrorCategory is a human readable bucket for transport failures. Raw
// transport messages are not surfaced to users.
type ErrorCategory string

const (
	CategoryDNSNotFound      ErrorCategory = "DNS lookup failed: host not found"
	CategoryDNSTimeout       ErrorCategory = "DNS lookup timed out"
	CategoryConnRefused      ErrorCategory = "Connection refused"
	CategoryConnTimedOut     ErrorCategory = "Connection timed out"
	CategoryConnReset        ErrorCategory = "Connection reset by peer"
	CategoryUnreachable      ErrorCategory = "Host or network unreachable"
	CategoryCertExpired      ErrorCategory = "TLS certificate has expired"
	CategoryCertUnverifiable ErrorCategory = "TLS certificate could not be verified"
	CategoryCertSelfSigned   ErrorCategory = "TLS certificate is self-signed"
	CategoryTLS              ErrorCategory = "TLS handshake failed"
	CategorySocketClosed     ErrorCategory = "Connection closed unexpectedly"
	CategoryRequestTimeout   ErrorCategory = "Request timed out"
	CategoryInvalidRequest   ErrorCategory = "Invalid request URL"
	CategoryUnknown          ErrorCategory = "Network error"
)

// ClassifyTransportError maps a transport error onto a category and reports
// whether it was a timeout.
func ClassifyTransportError(err error) (ErrorCategory, bool) {
	if err == nil {
		return CategoryUnknown, false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return CategoryDNSTimeout, true
		}
		return CategoryDNSNotFound, false
	}

	if cat, ok := classifyCertificate(err); ok {
		return cat, false
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CategoryConnRefused, false
	case errors.Is(err, syscall.ECONNRESET):
		return CategoryConnReset, false
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return CategoryUnreachable, false
	case errors.Is(err, syscall.ETIMEDOUT):
		return CategoryConnTimedOut, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && opErr.Timeout() {
		return CategoryConnTimedOut, true
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return CategoryRequestTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryRequestTimeout, true
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return CategoryTLS, false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return CategorySocketClosed, false
	}

	return classifyMessage(err.Error())
}

func classifyCertificate(err error) (ErrorCategory, bool) {
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		if invalid.Reason == x509.Expired {
			return CategoryCertExpired, true
		}
		return CategoryCertUnverifiable, true
	}

	var unknown x509.UnknownAuthorityError
	if errors.As(err, &unknown) {
		if c := unknown.Cert; c != nil && bytes.Equal(c.RawIssuer, c.RawSubject) {
			return CategoryCertSelfSigned, true
		}
		return CategoryCertUnverifiable, true
	}

	var hostname x509.HostnameError
	if errors.As(err, &hostname) {
		return CategoryCertUnverifiable, true
	}

	var verification *tls.CertificateVerificationError
	if errors.As(err, &verification) {
		return CategoryCertUnverifiable, true
	}
	return "", false
}

// classifyMessage is the fallback for errors that lost their type on the way
// up, e.g. through a wrapping library that only kept the message.
func classifyMessage(msg string) (ErrorCategory, bool) {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "no such host"):
		return CategoryDNSNotFound, false
	case strings.Contains(msg, "server misbehaving"), strings.Contains(msg, "i/o timeout") && strings.Contains(msg, "lookup"):
		return CategoryDNSTimeout, true
	case strings.Contains(msg, "connection refused"):
		return CategoryConnRefused, false
	case strings.Contains(msg, "connection reset"):
		return CategoryConnReset, false
	case strings.Contains(msg, "no route to host"), strings.Contains(msg, "network is unreachable"):
		return CategoryUnreachable, false
	case strings.Contains(msg, "certificate has expired"):
		return CategoryCertExpired, false
	case strings.Contains(msg, "self-signed"), strings.Contains(msg, "self signed"):
		return CategoryCertSelfSigned, false
	case strings.Contains(msg, "certificate"):
		return CategoryCertUnverifiable, false
	case strings.Contains(msg, "tls"):
		return CategoryTLS, false
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return CategoryRequestTimeout, true
	case strings.Contains(msg, "eof"), strings.Contains(msg, "closed"):
		return CategorySocketClosed, false
	case strings.Contains(msg, "unsupported protocol scheme"), strings.Contains(msg, "invalid url"):
		return CategoryInvalidRequest, false
	}
	return CategoryUnknown, false
}
