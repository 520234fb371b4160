package keymap

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/mappings.schema.json
var mappingsSchemaJSON string

var mappingsSchema = jsonschema.MustCompileString("mappings.schema.json", mappingsSchemaJSON)

// Document is the JSON wire form of a mapping set.
type Document struct {
	Mappings []KeyMapping `json:"mappings"`
}

// DecodeDocument validates data against the mapping document schema and
// returns the normalised mapping set.
func DecodeDocument(data []byte) ([]KeyMapping, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := mappingsSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return Normalize(doc.Mappings)
}

// EncodeDocument renders mappings as an indented mapping document.
func EncodeDocument(mappings []KeyMapping) ([]byte, error) {
	if mappings == nil {
		mappings = []KeyMapping{}
	}
	return json.MarshalIndent(Document{Mappings: mappings}, "", "  ")
}
