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

package kvstore

import "encoding/binary"

// Bit-exact on-disk layout, §6.3. Every multi-byte field is little-endian.
const (
	headerSize      = 24
	bucketSize      = 128
	historyEntrySize = 24
	valueTailSize   = 48
	historyPerKey   = 4
	maxValueLogs    = 48

	bucketKeyOffset     = 16 // after lock_word(4) + in_use_word(4) + 8 bytes padding
	bucketHistoryOffset = bucketKeyOffset + 16
)

var magicGood = [8]byte{'A', 'F', 'I', 'O', 'K', 'V', '0', '1'}
var magicDead = [8]byte{'D', 'E', 'A', 'D', 'K', 'V', '0', '1'}

// Key is the caller-chosen 128-bit identifier for a value (§3.7). It is
// stored little-endian: the low 64 bits first, the high 64 bits second.
type Key struct {
	Lo uint64
	Hi uint64
}

// KeyFromUint64 widens a plain integer key into a Key with a zero high
// half, the common case for tests and simple callers (§8 scenario 1 uses
// keys 78 and 79).
func KeyFromUint64(v uint64) Key { return Key{Lo: v} }

// Bytes renders k as the 16-byte little-endian encoding used on disk and
// by errs.NewKey.
func (k Key) Bytes() [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], k.Lo)
	binary.LittleEndian.PutUint64(b[8:16], k.Hi)
	return b
}

func keyFromBytes(b []byte) Key {
	return Key{Lo: binary.LittleEndian.Uint64(b[0:8]), Hi: binary.LittleEndian.Uint64(b[8:16])}
}

func putKey(b []byte, k Key) {
	binary.LittleEndian.PutUint64(b[0:8], k.Lo)
	binary.LittleEndian.PutUint64(b[8:16], k.Hi)
}

// historyEntry is one slot of a bucket's four-entry version history
// (§3.7, §6.3: 24 bytes). packed holds value_offset_div_64 (58 bits) in
// its high bits and value_file_id (6 bits) in its low bits.
type historyEntry struct {
	txnCounter uint64
	packed     uint64
	length     uint64
}

func (e historyEntry) empty() bool { return e.txnCounter == 0 }

// valueOffsetDiv64 is the value tail's byte position divided by 64 — the
// tail always lands on a 64-byte boundary because the value region is
// padded up to the next 64-byte multiple before the tail is appended
// (§3.7, §4.H.3).
func (e historyEntry) valueOffsetDiv64() uint64 { return e.packed >> 6 }
func (e historyEntry) valueFileID() uint8       { return uint8(e.packed & 0x3f) }

func packOffsetFileID(offsetDiv64 uint64, fileID uint8) uint64 {
	return (offsetDiv64 << 6) | uint64(fileID&0x3f)
}

func readHistoryEntry(b []byte) historyEntry {
	return historyEntry{
		txnCounter: binary.LittleEndian.Uint64(b[0:8]),
		packed:     binary.LittleEndian.Uint64(b[8:16]),
		length:     binary.LittleEndian.Uint64(b[16:24]),
	}
}

func putHistoryEntry(b []byte, e historyEntry) {
	binary.LittleEndian.PutUint64(b[0:8], e.txnCounter)
	binary.LittleEndian.PutUint64(b[8:16], e.packed)
	binary.LittleEndian.PutUint64(b[16:24], e.length)
}

// valueTail is the 48-byte trailer at the end of every value log record,
// the back-pointer that validates a history entry (§3.7, §6.3).
type valueTail struct {
	Hash       Key
	Key        Key
	TxnCounter uint64
	Length     uint64
}

func encodeTail(b []byte, t valueTail) {
	putKey(b[0:16], t.Hash)
	putKey(b[16:32], t.Key)
	binary.LittleEndian.PutUint64(b[32:40], t.TxnCounter)
	binary.LittleEndian.PutUint64(b[40:48], t.Length)
}

func decodeTail(b []byte) valueTail {
	return valueTail{
		Hash:       keyFromBytes(b[0:16]),
		Key:        keyFromBytes(b[16:32]),
		TxnCounter: binary.LittleEndian.Uint64(b[32:40]),
		Length:     binary.LittleEndian.Uint64(b[40:48]),
	}
}

// packTxnCounter combines a monotonic 48-bit sequence with the 16-bit
// count of keys the owning transaction updated, matching the index
// header's transaction_counter field (§3.7, §6.3). Ordering between two
// counters compares only the low 48 bits (the sequence), since the high
// 16 bits are metadata, not part of the monotonic relation (§8: "strictly
// greater than... modulo the 48-bit wrap").
func packTxnCounter(seq uint64, keysUpdated uint16) uint64 {
	return uint64(keysUpdated)<<48 | (seq & 0xFFFFFFFFFFFF)
}

func txnSequence(counter uint64) uint64 { return counter & 0xFFFFFFFFFFFF }

// roundUp64 rounds n up to the next multiple of 64 (§3.7 value log record
// padding).
func roundUp64(n uint64) uint64 { return (n + 63) &^ 63 }
