package ledger

import "errors"

var (
	// ErrInvalidAmount indicates a nil, zero or negative stake amount.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrNothingToWithdraw indicates the user has no live stake.
	ErrNothingToWithdraw = errors.New("ledger: nothing to withdraw")

	// ErrUnknownRound indicates a write to a round that was never opened.
	ErrUnknownRound = errors.New("ledger: unknown round")

	// ErrInvalidDay indicates a day outside [1, maxDate] of the round.
	ErrInvalidDay = errors.New("ledger: invalid day")

	// ErrStaleRound indicates a write to a round other than the latest one.
	ErrStaleRound = errors.New("ledger: round is not the latest")

	// ErrRoundExists indicates OpenRound was called twice for the same round.
	ErrRoundExists = errors.New("ledger: round already open")
)
