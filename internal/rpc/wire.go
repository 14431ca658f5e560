// Package rpc exposes the emit gate over gRPC. Messages travel as
// google.protobuf.Struct holding the snake_case JSON form of the types
// below, so no generated code is required on either side.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

// #region types
// EvaluateRequest asks for an emit decision. When UseStored is set the
// server evaluates the actor's stored sample window and ignores Samples.
type EvaluateRequest struct {
	Tenant    string                `json:"tenant,omitempty"`
	ActorID   string                `json:"actor_id"`
	Action    gate.ActionDescriptor `json:"action"`
	Tags      []string              `json:"tags,omitempty"`
	Samples   []telemetry.Sample    `json:"samples,omitempty"`
	UseStored bool                  `json:"use_stored,omitempty"`
	Weights   *trust.Weights        `json:"weights,omitempty"`
	Threshold *float64              `json:"threshold,omitempty"`
}

// EvaluateResponse carries the recorded decision and the throttle verdict.
type EvaluateResponse struct {
	Decision  gate.EmitDecision `json:"decision"`
	Throttled bool              `json:"throttled"`
	Proceed   bool              `json:"proceed"`
}

// RecordSampleResponse returns the stored sample ID.
type RecordSampleResponse struct {
	SampleID string `json:"sample_id"`
}

// #endregion types

// #region codec
// toStruct converts a JSON-tagged value into a Struct. Integers above 2^53
// lose precision on the wire.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return s, nil
}

// fromStruct decodes a Struct into a JSON-tagged value.
func fromStruct(s *structpb.Struct, v interface{}) error {
	if s == nil {
		return fmt.Errorf("decode: empty message")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// #endregion codec
