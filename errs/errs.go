// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errs defines the error kinds returned across the llfio API
// surface. Every exported operation returns a plain (T, error) pair; callers
// recover the kind with errors.As, never by type-switching on a concrete
// error type.
package errs

import "fmt"

// Kind identifies the category of failure behind an Error. Kinds are
// intentionally coarse: callers branch on Kind, not on the wrapped cause.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindNotADirectory
	KindIsADirectory
	KindPermissionDenied
	KindTimedOut
	KindOperationCancelled
	KindInvalidArgument
	KindFileExists
	KindNoBufferSpace
	KindResourceUnavailableTryAgain
	KindValueTooLarge
	KindNotSupported
	KindFunctionNotSupported
	KindMaximumWritersReached
	KindTransactionAborted
	KindBadUpdate
	KindTransactionLimitReached
	KindCorruptedStore
	KindUnknownStore
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindNotADirectory:
		return "not_a_directory"
	case KindIsADirectory:
		return "is_a_directory"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTimedOut:
		return "timed_out"
	case KindOperationCancelled:
		return "operation_cancelled"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindFileExists:
		return "file_exists"
	case KindNoBufferSpace:
		return "no_buffer_space"
	case KindResourceUnavailableTryAgain:
		return "resource_unavailable_try_again"
	case KindValueTooLarge:
		return "value_too_large"
	case KindNotSupported:
		return "not_supported"
	case KindFunctionNotSupported:
		return "function_not_supported"
	case KindMaximumWritersReached:
		return "maximum_writers_reached"
	case KindTransactionAborted:
		return "transaction_aborted"
	case KindBadUpdate:
		return "bad_update"
	case KindTransactionLimitReached:
		return "transaction_limit_reached"
	case KindCorruptedStore:
		return "corrupted_store"
	case KindUnknownStore:
		return "unknown_store"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with the operation that failed and the underlying
// cause, if any. For KindTransactionAborted, Key holds the key that
// caused the abort (§7 transaction_aborted(key)).
type Error struct {
	Kind Kind
	Op   string
	Key  *[16]byte
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for op/kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// NewKey is like New but records the key associated with a KV-store
// transaction_aborted error.
func NewKey(op string, kind Kind, key [16]byte, cause error) error {
	k := key
	return &Error{Op: op, Kind: kind, Key: &k, Err: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
