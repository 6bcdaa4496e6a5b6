package main

import (
	"context"
	stderrors "errors"

	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
)

// Process exit codes
const (
	exitOK        = 0
	exitOther     = 1
	exitConfig    = 2
	exitAuth      = 3
	exitClient    = 4
	exitExhausted = 5
	exitData      = 6
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if stderrors.Is(err, context.Canceled) {
		return exitOther
	}
	switch errors.TypeOf(err) {
	case errors.ErrorTypeConfig:
		return exitConfig
	case errors.ErrorTypeAuthentication:
		return exitAuth
	case errors.ErrorTypeClient:
		return exitClient
	case errors.ErrorTypeRetryExhausted:
		return exitExhausted
	case errors.ErrorTypeData, errors.ErrorTypePagination:
		return exitData
	default:
		return exitOther
	}
}
