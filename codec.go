package prefstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/proto"
)

// Codec serializes slot values. Unmarshal receives a pointer to the slot type.
// Implementations must round-trip every value Marshal accepts and must
// return an error, not a partial value, for data they cannot decode.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec stores values as JSON. It is the default.
//
// Decoding is strict: unknown object fields, trailing data and a top-level
// null for a type that cannot hold nil are all errors, so such bytes read
// as the slot default rather than a zero or partly filled value.
type JSONCodec struct{}

func (JSONCodec) Name() string                  { return "json" }
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) && !nullable(v) {
		return fmt.Errorf("prefstore: null is not a valid %T", v)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("prefstore: trailing data after JSON value")
	}
	return nil
}

// nullable reports whether v points to a type whose zero value is nil.
func nullable(v any) bool {
	t := reflect.TypeOf(v)
	if t == nil || t.Kind() != reflect.Pointer {
		return false
	}
	switch t.Elem().Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

// CBORCodec stores values as canonical CBOR (RFC 8949), a compact
// self-describing binary format.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec returns a CBORCodec with core deterministic encoding.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("prefstore: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("prefstore: cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Name() string                       { return "cbor" }
func (c *CBORCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c *CBORCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// Presence markers written ahead of the protobuf wire bytes, so a nil
// message and an empty one stay distinguishable.
const (
	protoNil     byte = 0x00
	protoPresent byte = 0x01
)

// ProtoCodec stores protobuf messages in wire format behind a one-byte
// presence marker. Slots using it must be declared with a message pointer
// type, e.g. Slot[*pb.Profile].
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("prefstore: %T is not a proto.Message", v)
	}
	if !m.ProtoReflect().IsValid() {
		return []byte{protoNil}, nil
	}
	wire, err := proto.MarshalOptions{Deterministic: true}.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append([]byte{protoPresent}, wire...), nil
}

func (ProtoCodec) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("prefstore: cannot unmarshal into %T", v)
	}

	elem := rv.Elem()
	if elem.Kind() != reflect.Pointer || !elem.Type().Implements(protoMessageType) {
		return fmt.Errorf("prefstore: %T does not point to a proto.Message", v)
	}

	switch {
	case len(data) == 1 && data[0] == protoNil:
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	case len(data) >= 1 && data[0] == protoPresent:
		msg := reflect.New(elem.Type().Elem())
		if err := proto.Unmarshal(data[1:], msg.Interface().(proto.Message)); err != nil {
			return err
		}
		elem.Set(msg)
		return nil
	}
	return errors.New("prefstore: missing proto presence marker")
}

var protoMessageType = reflect.TypeOf((*proto.Message)(nil)).Elem()
