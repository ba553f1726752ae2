package extract

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dgallion1/novelgen/internal/doctree"
)

var (
	//go:embed schema/tree.json
	treeSchemaJSON string
	//go:embed schema/sequence.json
	sequenceSchemaJSON string
)

var (
	treeSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
		return jsonschema.CompileString("tree.json", treeSchemaJSON)
	})
	sequenceSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
		return jsonschema.CompileString("sequence.json", sequenceSchemaJSON)
	})
)

// Decode validates payload against the schema for kind and returns a
// normalized document with IDs assigned and all content removed.
func Decode(payload string, kind doctree.Kind) (doctree.Document, error) {
	compile := treeSchema
	if kind == doctree.KindSequence {
		compile = sequenceSchema
	}
	schema, err := compile()
	if err != nil {
		return doctree.Document{}, fmt.Errorf("compile %s schema: %w", kind, err)
	}

	var raw any
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return doctree.Document{}, fmt.Errorf("%w: %v", ErrStructuredResponseInvalid, err)
	}
	if err := schema.Validate(raw); err != nil {
		return doctree.Document{}, fmt.Errorf("%w: %v", ErrStructuredResponseInvalid, err)
	}

	var doc doctree.Document
	switch kind {
	case doctree.KindSequence:
		var s doctree.Sequence
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return doctree.Document{}, fmt.Errorf("%w: %v", ErrStructuredResponseInvalid, err)
		}
		doc = doctree.FromSequence(s)
	default:
		var t doctree.Tree
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return doctree.Document{}, fmt.Errorf("%w: %v", ErrStructuredResponseInvalid, err)
		}
		doc = doctree.FromTree(t)
	}
	return doctree.Outline(doctree.Normalize(doc)), nil
}

// Structure isolates and decodes a structural document from raw model
// output. Every failure matches ErrStructuredResponseInvalid; one where
// nothing could be isolated also matches ErrNoPayload.
func Structure(raw string, kind doctree.Kind) (doctree.Document, string, error) {
	payload, err := Payload(raw)
	if err != nil {
		return doctree.Document{}, "", fmt.Errorf("%w: %w (raw: %s)", ErrStructuredResponseInvalid, err, truncate(raw, 200))
	}
	doc, err := Decode(payload, kind)
	return doc, payload, err
}

// Report isolates a JSON object such as a consistency review.
func Report(raw string) (map[string]any, error) {
	payload, err := Payload(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructuredResponseInvalid, err)
	}
	return out, nil
}
