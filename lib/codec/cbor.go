// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR is the default codec.
var CBOR Codec = cborCodec{}

var (
	cborEncoder cbor.EncMode
	cborDecoder cbor.DecMode
)

func init() {
	encodeOptions := cbor.CoreDetEncOptions()
	encodeOptions.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	cborEncoder, err = encodeOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecoder, err = cbor.DecOptions{
		// any-typed targets decode maps as map[string]any so payloads
		// survive a trip through encoding/json.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) ID() byte     { return 1 }
func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Marshal(v any) ([]byte, error) { return cborEncoder.Marshal(v) }

func (cborCodec) Unmarshal(data []byte, v any) error { return cborDecoder.Unmarshal(data, v) }

// RawMessage is an undecoded CBOR value, used to carry a payload
// through a struct whose type is decided later.
type RawMessage = cbor.RawMessage

// Diagnose renders CBOR data in RFC 8949 diagnostic notation. Content
// logging uses it to show payloads without knowing their type.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
