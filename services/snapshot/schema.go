package snapshot

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed manifest.schema.json
var manifestSchema []byte

const manifestSchemaURL = "https://compliance-ledger.local/schemas/manifest.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		if err := c.AddResource(manifestSchemaURL, bytes.NewReader(manifestSchema)); err != nil {
			compileErr = fmt.Errorf("manifest schema load failed: %w", err)
			return
		}
		compiled, compileErr = c.Compile(manifestSchemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("manifest schema compile failed: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// ValidateJSON checks an encoded manifest against the embedded schema
func ValidateJSON(data []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("manifest schema validation failed: %w", err)
	}
	return nil
}
