package provider

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// Grant names the token endpoint grant an exchange used.
type Grant string

const (
	GrantAuthorizationCode Grant = "authorization_code"
	GrantRefreshToken      Grant = "refresh_token"
)

// ExchangeError reports a token exchange the provider rejected or that never completed
// (network failure, timeout, malformed response).
type ExchangeError struct {
	Grant Grant
	// StatusCode is the provider's HTTP status, 0 if no response was received.
	StatusCode int
	// Code and Description are the provider's "error" and "error_description" fields.
	Code        string
	Description string
	// Body is the raw response payload, if any.
	Body []byte
	Err  error
}

func (e *ExchangeError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s exchange failed", e.Grant)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	sb.WriteString(": ")
	sb.WriteString(e.ProviderMessage())
	return sb.String()
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// ProviderMessage returns the provider's error string, falling back to the raw body
// and then to the underlying error.
func (e *ExchangeError) ProviderMessage() string {
	switch {
	case e.Code != "" && e.Description != "":
		return e.Code + ": " + e.Description
	case e.Code != "":
		return e.Code
	case len(e.Body) > 0:
		return strings.TrimSpace(string(e.Body))
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "unknown error"
	}
}

func newExchangeError(grant Grant, err error, body []byte) *ExchangeError {
	exchangeErr := &ExchangeError{
		Grant: grant,
		Body:  body,
		Err:   err,
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			exchangeErr.StatusCode = retrieveErr.Response.StatusCode
		}
		exchangeErr.Code = retrieveErr.ErrorCode
		exchangeErr.Description = retrieveErr.ErrorDescription
		if len(retrieveErr.Body) > 0 {
			exchangeErr.Body = retrieveErr.Body
		}
	}

	return exchangeErr
}
