package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/trustgate/internal/telemetry"
)

// #region client-struct
// Client wraps the gRPC connection to a trustgate server.
type Client struct {
	conn   *grpc.ClientConn
	client TrustGateClient
}

// #endregion client-struct

// #region constructor
// NewClient connects to the trustgate gRPC server.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, client: NewTrustGateClient(conn)}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc TrustGateClient) *Client {
	return &Client{client: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region evaluate
// Evaluate requests a decision. When the server recorded a decision but
// returned an error, the decision is returned alongside the error.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateResponse, error) {
	in, err := toStruct(req)
	if err != nil {
		return EvaluateResponse{}, fmt.Errorf("evaluate rpc: %w", err)
	}
	out, err := c.client.Evaluate(ctx, in)
	if err != nil {
		var resp EvaluateResponse
		if st, ok := status.FromError(err); ok {
			for _, d := range st.Details() {
				if s, ok := d.(*structpb.Struct); ok {
					_ = fromStruct(s, &resp)
				}
			}
		}
		return resp, fmt.Errorf("evaluate rpc: %w", err)
	}
	var resp EvaluateResponse
	if err := fromStruct(out, &resp); err != nil {
		return EvaluateResponse{}, fmt.Errorf("evaluate rpc: %w", err)
	}
	return resp, nil
}

// #endregion evaluate

// #region record-sample
// RecordSample stores a sample on the server and returns its ID.
func (c *Client) RecordSample(ctx context.Context, sample telemetry.Sample) (string, error) {
	in, err := toStruct(sample)
	if err != nil {
		return "", fmt.Errorf("record sample rpc: %w", err)
	}
	out, err := c.client.RecordSample(ctx, in)
	if err != nil {
		return "", fmt.Errorf("record sample rpc: %w", err)
	}
	var resp RecordSampleResponse
	if err := fromStruct(out, &resp); err != nil {
		return "", fmt.Errorf("record sample rpc: %w", err)
	}
	return resp.SampleID, nil
}

// #endregion record-sample
