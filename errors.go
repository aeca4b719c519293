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

package llfio

import (
	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
)

// classifyErrno translates a raw platform error surfaced by syscallshim
// into one of the named error kinds from spec.md §7. Everything the shim
// layer doesn't specifically recognize comes back as KindUnknown, which
// still wraps the original error for diagnostics (§7 propagation rule:
// "everything recoverable is returned").
func classifyErrno(err error) errs.Kind {
	if err == nil {
		return errs.KindUnknown
	}
	if err == syscallshim.ErrNotSupported {
		return errs.KindNotSupported
	}
	if err == syscallshim.ErrAgain {
		return errs.KindResourceUnavailableTryAgain
	}
	name, ok := syscallshim.ClassifyErrno(err)
	if !ok {
		return errs.KindUnknown
	}
	switch name {
	case "not_found":
		return errs.KindNotFound
	case "already_exists":
		return errs.KindAlreadyExists
	case "not_a_directory":
		return errs.KindNotADirectory
	case "is_a_directory":
		return errs.KindIsADirectory
	case "permission_denied":
		return errs.KindPermissionDenied
	case "resource_unavailable_try_again":
		return errs.KindResourceUnavailableTryAgain
	case "invalid_argument":
		return errs.KindInvalidArgument
	case "no_buffer_space":
		return errs.KindNoBufferSpace
	case "value_too_large":
		return errs.KindValueTooLarge
	case "not_supported":
		return errs.KindNotSupported
	case "operation_cancelled":
		return errs.KindOperationCancelled
	default:
		return errs.KindUnknown
	}
}
