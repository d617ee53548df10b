package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON writes envelopes that stay readable when a backend is inspected by
// hand. Decoding is strict: unknown fields and trailing bytes are errors, so
// a blob that merely looks like an envelope is not mistaken for a value.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("json: trailing data after value")
	}
	return nil
}

func (JSON) Name() string { return "json" }
func (JSON) ID() byte     { return 1 }
