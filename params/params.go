// Package params encodes and decodes the calendar filter descriptor carried
// in the source's URLs as a base64 JSON blob.
package params

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// Filter names the poller and composer care about.
const (
	CalendarDate   = "calendar_date"
	Offset         = "offset"
	IsAjax         = "is_ajax"
	SentinelType   = "sentinel_type"
	SentinelStatus = "sentinel_status"
)

// ErrMalformedDescriptor is returned when a blob is not base64 JSON of the expected shape.
var ErrMalformedDescriptor = errors.New("malformed descriptor")

// Value is a filter value: either a single string or a list of strings.
type Value struct {
	Values []string
	Scalar bool
}

// String returns a single-string value.
func String(s string) Value {
	return Value{Values: []string{s}, Scalar: true}
}

// List returns a list value.
func List(vs ...string) Value {
	if vs == nil {
		vs = []string{}
	}
	return Value{Values: vs}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Scalar && len(v.Values) == 1 {
		return json.Marshal(v.Values[0])
	}
	if v.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Values)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("filter value must be a string or a list of strings: %w", err)
	}
	*v = List(list...)
	return nil
}

// Descriptor maps filter names to values.
type Descriptor map[string]Value

// envelope is the top-level shape of the blob. Other top-level fields
// (page, offsetPage) are not used and are dropped on decode.
type envelope struct {
	Filters Descriptor `json:"filters"`
}

// Decode base64-decodes blob and parses its filters object.
// A blob without a filters member decodes to an empty descriptor.
func Decode(blob string) (Descriptor, error) {
	raw, err := decodeBase64(strings.TrimSpace(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedDescriptor, err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformedDescriptor, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: top level is not an object", ErrMalformedDescriptor)
	}

	d := Descriptor{}
	filters, ok := top["filters"]
	if !ok || string(bytes.TrimSpace(filters)) == "null" {
		return d, nil
	}
	if err := json.Unmarshal(filters, &d); err != nil {
		return nil, fmt.Errorf("%w: filters: %v", ErrMalformedDescriptor, err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: filters is not an object", ErrMalformedDescriptor)
	}
	return d, nil
}

// Encode serializes d as {"filters": d} and base64-encodes it.
func Encode(d Descriptor) (string, error) {
	if d == nil {
		d = Descriptor{}
	}
	data, err := json.Marshal(envelope{Filters: d})
	if err != nil {
		return "", fmt.Errorf("marshal descriptor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Clone returns a copy of d that can be modified without affecting d.
func (d Descriptor) Clone() Descriptor {
	out := make(Descriptor, len(d))
	for k, v := range d {
		out[k] = Value{Values: slices.Clone(v.Values), Scalar: v.Scalar}
	}
	return out
}

// With returns a copy of d with name set to v.
func (d Descriptor) With(name string, v Value) Descriptor {
	out := d.Clone()
	out[name] = v
	return out
}

// Without returns a copy of d with the given names removed.
func (d Descriptor) Without(names ...string) Descriptor {
	out := d.Clone()
	for _, n := range names {
		delete(out, n)
	}
	return out
}

// Static returns the subset of d that identifies the search itself,
// without the date, pagination and ajax bookkeeping fields.
func (d Descriptor) Static() Descriptor {
	return d.Without(CalendarDate, Offset, IsAjax, SentinelType, SentinelStatus)
}

// Query renders d as URL query values. List values repeat the key once per value.
func (d Descriptor) Query() url.Values {
	q := url.Values{}
	for _, k := range slices.Sorted(maps.Keys(d)) {
		for _, v := range d[k].Values {
			q.Add(k, v)
		}
	}
	return q
}

// URL appends d as a query string to base.
func (d Descriptor) URL(base string) string {
	q := d.Query().Encode()
	if q == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q
}
