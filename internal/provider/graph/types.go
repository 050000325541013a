// Package graph implements a Provider that sends built MIME messages via the
// Microsoft Graph sendMail endpoint.
package graph

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/shineum/mailcompose/internal/email"
)

// graphErrorResponse is the error envelope returned by the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// encodeMIME returns the sendMail request body for msg. Graph takes the MIME
// content base64 encoded with Content-Type text/plain, and reads Bcc from it.
func encodeMIME(msg *email.MimeMessage) []byte {
	raw := msg.BytesWithBcc()
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out
}

// sendError is a failed sendMail call, classified for retry decisions.
type sendError struct {
	message    string
	code       string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

func classifyError(statusCode int, code, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		code:       code,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusForbidden:
		err.permanent = true
	case statusCode == http.StatusUnauthorized:
		err.transient = true
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// toEmailError maps a terminal sendError onto an email error reason.
func toEmailError(err *sendError) error {
	switch {
	case err.statusCode == http.StatusBadRequest && err.code == "ErrorInvalidRecipients":
		return email.NewInvalidAddressError("invalid recipient", err)
	case err.statusCode == http.StatusBadRequest:
		return email.NewMessageRejectedError("message rejected by Graph API", err)
	case err.statusCode == http.StatusForbidden:
		return email.NewUnverifiedDomainError("sender not permitted to send mail", err)
	case err.statusCode == http.StatusUnauthorized:
		return email.NewValidationError("authentication failed - check client credentials", err)
	case err.statusCode == http.StatusTooManyRequests:
		return email.NewRateLimitedError("Graph API rate limit exceeded", err)
	case err.statusCode >= 500 || err.statusCode == 0:
		return email.NewServiceError("Graph API service error", err)
	default:
		return email.NewUnknownError("Graph API error", err)
	}
}
