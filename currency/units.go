// Copyright 2026 The hookmarket Authors
// This file is part of the hookmarket library.
//
// The hookmarket library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hookmarket library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hookmarket library. If not, see <http://www.gnu.org/licenses/>.

// Package currency converts between the decimal-string amounts used at API
// boundaries and the integer base-unit representation used for all monetary
// arithmetic. Milestone targets are quantized at four decimal places.
package currency

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// TargetPlaces is the quantization applied to milestone and challenge-reward
// targets: round(x, 4 decimals), half up.
const TargetPlaces = 4

var (
	ErrNegativeAmount = errors.New("currency: negative amount")
	ErrTooPrecise     = errors.New("currency: more fractional digits than asset decimals")
)

// ParseUnits converts a non-negative decimal string into integer base units
// for an asset with the given number of decimals.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("currency: invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, ErrNegativeAmount
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, ErrTooPrecise
	}
	return shifted.BigInt(), nil
}

// FormatUnits renders base units back into a decimal string.
func FormatUnits(u *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(u, -decimals).String()
}

// RoundTarget quantizes a base-unit amount at TargetPlaces decimal places,
// rounding half up. decimals must be >= TargetPlaces (config enforces it).
func RoundTarget(u *big.Int, decimals int32) *big.Int {
	d := decimal.NewFromBigInt(u, -decimals)
	return d.Round(TargetPlaces).Shift(decimals).BigInt()
}

// PercentOf computes round(base × percent / 100, 4 decimals) in base units.
func PercentOf(base *big.Int, percent int64, decimals int32) *big.Int {
	d := decimal.NewFromBigInt(base, -decimals)
	t := d.Mul(decimal.NewFromInt(percent)).Div(decimal.NewFromInt(100)).Round(TargetPlaces)
	return t.Shift(decimals).BigInt()
}

// SplitEven distributes total base units over parts so that every part is a
// non-negative integer and the parts sum to total exactly. The first
// total mod parts shares receive one extra unit. Zero shares are dropped.
func SplitEven(total *big.Int, parts int) []*big.Int {
	if parts < 1 {
		parts = 1
	}
	q, r := new(big.Int).DivMod(total, big.NewInt(int64(parts)), new(big.Int))
	extra := r.Int64()
	out := make([]*big.Int, 0, parts)
	for i := 0; i < parts; i++ {
		share := new(big.Int).Set(q)
		if int64(i) < extra {
			share.Add(share, big.NewInt(1))
		}
		if share.Sign() > 0 {
			out = append(out, share)
		}
	}
	return out
}

// Sum adds a list of base-unit amounts.
func Sum(amounts ...*big.Int) *big.Int {
	total := new(big.Int)
	for _, a := range amounts {
		total.Add(total, a)
	}
	return total
}
