// Package artifact validates the canonical artifact document against its JSON Schema.
package artifact

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tnxgate/internal/domain"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://tnxgate.local/schemas/artifact.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(schemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// Normalize replaces nil sequences with empty ones so the document always
// carries arrays.
func Normalize(art *domain.Artifact) {
	if art.AgentReview.Findings == nil {
		art.AgentReview.Findings = []domain.Finding{}
	}
	if art.TraderReview.Comments == nil {
		art.TraderReview.Comments = []domain.ReviewComment{}
	}
	if art.Decisions == nil {
		art.Decisions = []domain.ReviewDecision{}
	}
	if art.Renders == nil {
		art.Renders = []domain.RenderRequest{}
	}
	if art.AgentReview.Status == "" {
		art.AgentReview.Status = domain.AgentPending
	}
	if art.TraderReview.Status == "" {
		art.TraderReview.Status = domain.TraderNotRequested
	}
}

// Validate normalizes art and checks it against the embedded schema.
func Validate(art *domain.Artifact) error {
	Normalize(art)
	raw, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	return ValidateJSON(raw)
}

// ValidateJSON checks a raw artifact document.
func ValidateJSON(raw []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("artifact schema: %w", err)
	}
	return nil
}
