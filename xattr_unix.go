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

//go:build !windows

package llfio

import "github.com/afio/llfiogo/errs"

// On POSIX, flistxattr/fgetxattr/fsetxattr/fremovexattr already cover
// every case the shim supports; these fallbacks only fire when the
// underlying filesystem rejects extended attributes outright (e.g. a FAT
// mount), which the shim surfaces as ErrNotSupported rather than an
// errno this package can classify more specifically.
func listXattrFallback(h *Handle) ([]string, error) {
	return nil, errs.New("list_xattr", errs.KindNotSupported, nil)
}

func getXattrFallback(h *Handle, name string) ([]byte, error) {
	return nil, errs.New("get_xattr", errs.KindNotSupported, nil)
}

func setXattrFallback(h *Handle, name string, value []byte) error {
	return errs.New("set_xattr", errs.KindNotSupported, nil)
}

func removeXattrFallback(h *Handle, name string) error {
	return errs.New("remove_xattr", errs.KindNotSupported, nil)
}
