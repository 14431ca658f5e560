package replay

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://trustgate.schemas.local/replay/fixture.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string        `json:"description"`
	Config      gate.Config   `json:"config"`
	Cases       []FixtureCase `json:"cases"`
}

// FixtureCase is one evaluation and its expected outcome.
type FixtureCase struct {
	Name      string                `json:"name"`
	ActorID   string                `json:"actor_id"`
	Action    gate.ActionDescriptor `json:"action"`
	Tags      []string              `json:"tags,omitempty"`
	Samples   []telemetry.Sample    `json:"samples"`
	Weights   *trust.Weights        `json:"weights,omitempty"`
	Threshold *float64              `json:"threshold,omitempty"`
	Expected  Expectation           `json:"expected"`
}

// Expectation is what a case must produce. Trust is checked only when set.
type Expectation struct {
	Allowed    bool       `json:"allowed"`
	State      gate.State `json:"state,omitempty"`
	Trust      *float64   `json:"trust,omitempty"`
	Tolerance  float64    `json:"tolerance,omitempty"`
	InCovenant *bool      `json:"in_covenant,omitempty"`
	Invalid    bool       `json:"invalid,omitempty"`
}

// DefaultTolerance applies when an expectation sets Trust without Tolerance.
const DefaultTolerance = 1e-4

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads, validates and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return f, nil
}

// ParseFixture validates data against the fixture schema and decodes it.
// Config fields absent from the fixture keep their defaults.
func ParseFixture(data []byte) (*Fixture, error) {
	if err := ValidateFixture(data); err != nil {
		return nil, err
	}
	f := Fixture{Config: gate.DefaultConfig()}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := f.Config.Validate(); err != nil {
		return nil, fmt.Errorf("fixture config: %w", err)
	}
	return &f, nil
}

// ValidateFixture checks data against the embedded JSON schema.
func ValidateFixture(data []byte) error {
	schema, err := fixtureSchema()
	if err != nil {
		return err
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode fixture: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("fixture schema: %w", err)
	}
	return nil
}

func fixtureSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load fixture schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile fixture schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ToRequest converts a case to a gate request.
func (c *FixtureCase) ToRequest() gate.Request {
	return gate.Request{
		ActorID:   c.ActorID,
		Action:    c.Action,
		Samples:   c.Samples,
		Tags:      c.Tags,
		Weights:   c.Weights,
		Threshold: c.Threshold,
	}
}

// #endregion fixture-loader
