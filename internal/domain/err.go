package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrOrderNotFound     = errors.New("order not found")
	ErrBankNotSupported  = errors.New("bank not supported")
	ErrProviderRejection = errors.New("provider rejected request")
	ErrTransport         = errors.New("provider transport fault")
	ErrAlreadySubmitted  = errors.New("disbursement already submitted")
	ErrInquiryRejected   = errors.New("account inquiry rejected")
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrDuplicateRef      = errors.New("provider reference already assigned")
)

// ProviderError is a non-success answer from a provider API.
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return ErrProviderRejection }
