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

// Package kvstore is the transactional key-value engine built on top of
// llfio (§4.H): a memory-mapped open-addressed hash index backed by
// per-writer append-only value log files, with optimistic multi-key
// transactions and a bounded four-entry version history per key.
//
// A Store is single-machine, multi-writer within that machine. It has no
// network surface and no query language; callers address values strictly
// by a caller-chosen 128-bit Key.
package kvstore
