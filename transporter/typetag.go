// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import (
	"reflect"
	"sync"

	"github.com/bureau-foundation/resonance/envelope"
)

var (
	typedInterface = reflect.TypeFor[envelope.Typed]()
	typeTags       sync.Map // reflect.Type -> string
)

// TypeTag returns the tag that identifies T on the wire. A type that
// implements envelope.Typed chooses its own tag; any other named type
// is tagged with its package path and name. Pointer types share the tag
// of their element type.
//
// Both peers must agree on tags, so types exchanged between programs
// built from different packages should implement envelope.Typed.
func TypeTag[T any]() string {
	return typeTagOf(reflect.TypeFor[T]())
}

func typeTagOf(rt reflect.Type) string {
	if cached, ok := typeTags.Load(rt); ok {
		return cached.(string)
	}
	tag := computeTypeTag(rt)
	typeTags.Store(rt, tag)
	return tag
}

func computeTypeTag(rt reflect.Type) string {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	switch {
	case rt.Implements(typedInterface):
		return reflect.New(rt).Elem().Interface().(envelope.Typed).ResonanceType()
	case reflect.PointerTo(rt).Implements(typedInterface):
		return reflect.New(rt).Interface().(envelope.Typed).ResonanceType()
	case rt.Name() != "" && rt.PkgPath() != "":
		return rt.PkgPath() + "." + rt.Name()
	default:
		return rt.String()
	}
}

// typeTagOfValue returns the tag of v's dynamic type.
func typeTagOfValue(v any) string {
	if v == nil {
		return ""
	}
	return typeTagOf(reflect.TypeOf(v))
}
