// Package errors provides error handling for verdant.
//
// It re-exports github.com/cockroachdb/errors, giving every error a stack
// trace, wrap-with-context helpers, and user-facing hints/details without
// each package importing the upstream module directly.
//
// Usage:
//
//	// Create new error
//	err := errors.New("collector not registered")
//
//	// Wrap with context
//	if err := store.SaveObservation(ctx, res); err != nil {
//	    return errors.Wrap(err, "failed to persist observation")
//	}
//
//	// Check errors
//	if errors.Is(err, sql.ErrNoRows) {
//	    // handle not found
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Aggregation, used when partial collection results are worth keeping
// alongside their errors.
var (
	CombineErrors = crdb.CombineErrors
	Join          = crdb.Join
)
