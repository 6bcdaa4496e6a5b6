// Package json wraps goccy/go-json with the decoding settings the tap relies on.
//
// Decoders always use UseNumber so that integer metrics and string IDs from
// the API keep their exact textual form until the normalizer coerces them.
package json

import (
	"bytes"
	"io"

	gojson "github.com/goccy/go-json"
)

// Number is the decoded representation of JSON numbers when UseNumber is set
type Number = gojson.Number

// GetDecoder returns a decoder that keeps numbers as Number
func GetDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// GetEncoder returns an encoder with HTML escaping disabled
func GetEncoder(w io.Writer) *gojson.Encoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// Marshal marshals v to JSON
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent encodes v with indentation
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes data into v, keeping numbers as Number
func Unmarshal(data []byte, v interface{}) error {
	return GetDecoder(bytes.NewReader(data)).Decode(v)
}

// DecodeObject decodes a single JSON object from r
func DecodeObject(r io.Reader) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := GetDecoder(r).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
