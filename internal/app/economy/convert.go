// Package economy implements the coin→point conversion and the XP/level curve
// of the power-up game.
package economy

import (
	"fmt"
	"time"

	"github.com/confquest/confquest/internal/domain"
)

// Conversion is the result of one batch conversion.
type Conversion struct {
	Units          int64 `json:"units"`
	PointsAwarded  int64 `json:"points_awarded"`
	CoinsSpent     int64 `json:"coins_spent"`
	CoinsRemaining int64 `json:"coins_remaining"`
}

// ConversionRate is the fixed exchange rate: Ratio coins buy PointsPerUnit points.
type ConversionRate struct {
	Ratio         int64 `toml:"ratio"`
	PointsPerUnit int64 `toml:"points_per_unit"`
}

// DefaultConversionRate returns 1000 coins → 10 points.
func DefaultConversionRate() ConversionRate {
	return ConversionRate{Ratio: 1000, PointsPerUnit: 10}
}

// Convert converts as many whole units as coins allows; the remainder stays.
// It is not idempotent: each call spends real balance, so callers must
// allow at most one conversion in flight per user.
//
// When not even one unit fits, the returned Conversion describes the
// unchanged balance and the error wraps domain.ErrBelowConversionThreshold.
func Convert(coins, ratio, pointsPerUnit int64) (Conversion, error) {
	if ratio <= 0 || pointsPerUnit <= 0 {
		return Conversion{CoinsRemaining: coins}, fmt.Errorf("%w: conversion ratio=%d points_per_unit=%d",
			domain.ErrInvariantViolation, ratio, pointsPerUnit)
	}
	if coins < 0 {
		return Conversion{CoinsRemaining: coins}, fmt.Errorf("%w: negative coin balance %d",
			domain.ErrInvariantViolation, coins)
	}

	units := coins / ratio
	if units == 0 {
		return Conversion{CoinsRemaining: coins}, domain.Reject(domain.ErrBelowConversionThreshold,
			fmt.Sprintf("have %d coins, need %d to convert", coins, ratio), time.Time{})
	}

	spent := units * ratio
	return Conversion{
		Units:          units,
		PointsAwarded:  units * pointsPerUnit,
		CoinsSpent:     spent,
		CoinsRemaining: coins - spent,
	}, nil
}

// Convert applies the rate to coins.
func (r ConversionRate) Convert(coins int64) (Conversion, error) {
	return Convert(coins, r.Ratio, r.PointsPerUnit)
}
