package service

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrPaymentNotRequired = errors.New("payment not required")
	ErrPaymentUnavailable = errors.New("payment provider unavailable")
	ErrSessionNotActive   = errors.New("session is not active")
)
