// Package convert maps block sync values to and from protobuf wrapper messages.
package convert

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MaxPayload bounds a single manifest or block file on the wire.
const MaxPayload = 4 << 20

// --- block numbers ---

// ToProtoBlockRef wraps a block number.
func ToProtoBlockRef(k int) *wrapperspb.Int32Value {
	if k < 0 || k > math.MaxInt32 {
		return nil
	}
	return wrapperspb.Int32(int32(k))
}

// FromProtoBlockRef unwraps a block number and rejects missing or negative values.
func FromProtoBlockRef(v *wrapperspb.Int32Value) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("nil block ref")
	}
	k := int(v.GetValue())
	if k < 0 {
		return 0, fmt.Errorf("negative block %d", k)
	}
	return k, nil
}

// --- payloads ---

// ToProtoPayload wraps a manifest or sealed block file.
func ToProtoPayload(b []byte) *wrapperspb.BytesValue {
	if b == nil {
		return nil
	}
	return wrapperspb.Bytes(b)
}

// FromProtoPayload unwraps a payload and rejects empty or oversized ones.
func FromProtoPayload(v *wrapperspb.BytesValue) ([]byte, error) {
	data := v.GetValue()
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(data) > MaxPayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(data), MaxPayload)
	}
	return data, nil
}
