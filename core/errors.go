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

package core

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so the transport layer can map them to
// status codes.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindState
	KindHashMismatch
	KindNotFound
	KindStorage
	KindAdapter
	KindVerifier
	KindInsufficientAllowance
)

// Error is a typed engine error carrying its taxonomy kind.
type Error struct {
	Kind    Kind
	Msg     string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Msg + ": " + e.Details
	}
	return e.Msg
}

// KindOf extracts the error kind, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func errValidation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func errAuthorization(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

func errState(format string, args ...any) error {
	return &Error{Kind: KindState, Msg: fmt.Sprintf(format, args...)}
}

func errHashMismatch(format string, args ...any) error {
	return &Error{Kind: KindHashMismatch, Msg: fmt.Sprintf(format, args...)}
}

func errNotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func errStorage(err error) error {
	return &Error{Kind: KindStorage, Msg: "storage failure", Details: err.Error()}
}

func errAdapter(err error) error {
	return &Error{Kind: KindAdapter, Msg: "payment adapter failure", Details: err.Error()}
}

func errVerifier(err error) error {
	return &Error{Kind: KindVerifier, Msg: "verifier failure", Details: err.Error()}
}

func errInsufficientAllowance(err error) error {
	return &Error{Kind: KindInsufficientAllowance, Msg: "insufficient session allowance", Details: err.Error()}
}
