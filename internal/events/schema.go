package events

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const rateChangedSchemaURL = "rate_changed.json"

//go:embed schemas/rate_changed.json
var rateChangedSchemaJSON []byte

var rateChangedSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(rateChangedSchemaURL, bytes.NewReader(rateChangedSchemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(rateChangedSchemaURL)
})

// DecodeRateChanged validates body against the RateChanged schema before
// decoding it.
func DecodeRateChanged(body []byte) (RateChanged, error) {
	schema, err := rateChangedSchema()
	if err != nil {
		return RateChanged{}, fmt.Errorf("compile rate event schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return RateChanged{}, fmt.Errorf("decode rate event: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return RateChanged{}, fmt.Errorf("invalid rate event: %w", err)
	}

	var event RateChanged
	if err := json.Unmarshal(body, &event); err != nil {
		return RateChanged{}, fmt.Errorf("decode rate event: %w", err)
	}
	return event, nil
}

// EncodeRateChanged marshals event and checks it against the schema so that
// nothing is published that other instances would reject.
func EncodeRateChanged(event RateChanged) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	if _, err := DecodeRateChanged(body); err != nil {
		return nil, err
	}
	return body, nil
}
