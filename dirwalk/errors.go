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

package dirwalk

import (
	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
)

// classifyErrno mirrors llfio's own unexported classifyErrno (errors.go):
// translate a raw shim error into one of errs.Kind's named categories.
// Duplicated rather than imported because the root package keeps its
// mapping private; both read the same syscallshim.ClassifyErrno table.
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
