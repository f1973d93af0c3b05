package relayer

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrorKind is the caller-visible outcome of a failed request.
type ErrorKind string

const (
	KindInvalidRequest          ErrorKind = "INVALID_REQUEST"
	KindInvalidCredential       ErrorKind = "INVALID_CREDENTIAL"
	KindNotWhitelisted          ErrorKind = "NOT_WHITELISTED"
	KindDAppNotConfigured       ErrorKind = "DAPP_NOT_CONFIGURED"
	KindGasPriceTooHigh         ErrorKind = "GAS_PRICE_TOO_HIGH"
	KindSwapTokenNotWhitelisted ErrorKind = "SWAP_TOKEN_NOT_WHITELISTED"
	KindDAppInactive            ErrorKind = "DAPP_INACTIVE"
	KindInsufficientBalance     ErrorKind = "INSUFFICIENT_BALANCE"
	KindDAppTerminated          ErrorKind = "DAPP_TERMINATED"
	KindSubmissionExhausted     ErrorKind = "SUBMISSION_EXHAUSTED"
	KindConfirmationTimeout     ErrorKind = "CONFIRMATION_TIMEOUT"
	KindReverted                ErrorKind = "REVERTED"
	KindSettlementFault         ErrorKind = "SETTLEMENT_FAULT"
	KindUnsupportedToken        ErrorKind = "UNSUPPORTED_TOKEN"
	KindPermitExpired           ErrorKind = "PERMIT_EXPIRED"
	KindNonZeroBalance          ErrorKind = "NON_ZERO_BALANCE"
	KindRateLimited             ErrorKind = "RATE_LIMITED"
	KindInternal                ErrorKind = "INTERNAL"
)

// RelayError carries a caller-facing message. Err keeps the full detail for
// server-side logs and never reaches a response.
type RelayError struct {
	Kind    ErrorKind
	Message string
	Data    interface{}
	Err     error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RelayError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, message string, err error) *RelayError {
	return &RelayError{Kind: kind, Message: message, Err: err}
}

// KindOf classifies err. Anything that is not a *RelayError is internal.
func KindOf(err error) ErrorKind {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

var urlPattern = regexp.MustCompile(`(?i)\b(?:https?|wss?)://[^\s"'<>]+`)

const redacted = "[redacted]"

// Sanitize strips URLs and the given endpoint hosts from msg.
func Sanitize(msg string, endpoints ...string) string {
	msg = urlPattern.ReplaceAllString(msg, redacted)
	for _, endpoint := range endpoints {
		if endpoint == "" {
			continue
		}
		if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
			msg = strings.ReplaceAll(msg, u.Host, redacted)
			if h := u.Hostname(); h != "" {
				msg = strings.ReplaceAll(msg, h, redacted)
			}
		}
		msg = strings.ReplaceAll(msg, endpoint, redacted)
	}
	return msg
}
