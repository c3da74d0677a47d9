package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	intentSchemaMu sync.RWMutex
	intentSchemas  = make(map[string]*jsonschema.Schema)
)

// compileIntentSchema compiles and caches a policy's IntentSchema text,
// keyed by the raw schema text itself so identical schemas shared across
// policy versions compile once.
func compileIntentSchema(raw string) (*jsonschema.Schema, error) {
	intentSchemaMu.RLock()
	s, ok := intentSchemas[raw]
	intentSchemaMu.RUnlock()
	if ok {
		return s, nil
	}

	intentSchemaMu.Lock()
	defer intentSchemaMu.Unlock()
	if s, ok := intentSchemas[raw]; ok {
		return s, nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://caracal.local/schemas/intent-%d.json", len(intentSchemas))
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("policy: loading intent schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("policy: compiling intent schema: %w", err)
	}
	intentSchemas[raw] = compiled
	return compiled, nil
}

// ValidateIntentSchema reports whether the given raw JSON Schema text is
// itself well-formed, without validating any instance against it. Callers
// (C1's policy admin surface) use this to reject a malformed schema at
// policy-creation time rather than at every later issuance.
func ValidateIntentSchema(raw string) error {
	if raw == "" {
		return nil
	}
	_, err := compileIntentSchema(raw)
	return err
}

// ValidateIntent checks a mandate's free-form Intent map against a
// policy's IntentSchema. An empty schema means no shape is enforced and
// any intent map passes.
func ValidateIntent(schema string, intent map[string]any) error {
	if schema == "" {
		return nil
	}
	s, err := compileIntentSchema(schema)
	if err != nil {
		return err
	}

	// jsonschema validates decoded JSON values (map[string]interface{}
	// with JSON number semantics); round-trip through encoding/json so
	// Go-native values (e.g. int) match what the schema expects.
	encoded, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("policy: encoding intent for validation: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return fmt.Errorf("policy: decoding intent for validation: %w", err)
	}

	if err := s.Validate(decoded); err != nil {
		return fmt.Errorf("policy: intent does not satisfy policy schema: %w", err)
	}
	return nil
}
