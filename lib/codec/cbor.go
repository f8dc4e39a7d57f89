// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MaxRecordElements bounds any array or map in a decoded record. A
// dead-letter record holds at most one batch, and batches are capped
// well below this by batch.max_entries validation.
const MaxRecordElements = 1 << 20

var (
	encoder    cbor.EncMode
	decoder    cbor.DecMode
	diagnostic cbor.DiagMode
)

func init() {
	encoderOptions := cbor.CoreDetEncOptions()
	encoderOptions.Time = cbor.TimeRFC3339Nano
	encoder = mustMode(encoderOptions.EncMode())

	decoder = mustMode(cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: MaxRecordElements,
		MaxMapPairs:      MaxRecordElements,
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
	}.DecMode())

	diagnostic = mustMode(cbor.DiagOptions{
		ByteStringText:   true,
		MaxArrayElements: MaxRecordElements,
		MaxMapPairs:      MaxRecordElements,
	}.DiagMode())
}

func mustMode[M any](mode M, err error) M {
	if err != nil {
		panic(fmt.Sprintf("codec: invalid CBOR options: %v", err))
	}
	return mode
}

// Marshal encodes v with Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encoder.Marshal(v)
}

// Unmarshal decodes one record into v. Duplicate map keys and
// trailing bytes are errors.
func Unmarshal(data []byte, v any) error {
	return decoder.Unmarshal(data, v)
}

// Diagnose renders data in RFC 8949 diagnostic notation. Byte strings
// holding UTF-8, such as archived JSON entries, are shown as text.
func Diagnose(data []byte) (string, error) {
	return diagnostic.Diagnose(data)
}
