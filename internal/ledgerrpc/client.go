package ledgerrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/tala-robotics/sentinel/internal/registry"
)

// Client is a thin ledgerrpc.LedgerServiceServer-shaped caller used by
// checkpointctl and by gateways that don't embed a registry.Registry
// in-process.
type Client struct {
	cc     *grpc.ClientConn
	caller callerFields
}

// Dial connects to a ledger service and tags every outgoing call with
// subject as the caller.
func Dial(ctx context.Context, addr string, subject registry.Subject, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})))
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("ledgerrpc client: dial %s: %w", addr, err)
	}
	return &Client{cc: cc, caller: subjectToCallerFields(subject)}, nil
}

func (c *Client) Close() error { return c.cc.Close() }

func (c *Client) RegisterModel(ctx context.Context, in registry.RegisterModelInput) error {
	req := &RegisterModelRequest{
		Caller:          c.caller,
		ModelHash:       in.ModelHash,
		Name:            in.Name,
		DatasetHash:     in.DatasetHash,
		ContainerDigest: in.ContainerDigest,
		HasSignature:    in.HasSignature,
	}
	return c.cc.Invoke(ctx, fullMethod("RegisterModel"), req, new(Empty))
}

func (c *Client) RevokeModel(ctx context.Context, modelHash registry.Hash256) error {
	req := &RevokeModelRequest{Caller: c.caller, ModelHash: modelHash}
	return c.cc.Invoke(ctx, fullMethod("RevokeModel"), req, new(Empty))
}

func (c *Client) ReinstateModel(ctx context.Context, modelHash registry.Hash256) error {
	req := &RevokeModelRequest{Caller: c.caller, ModelHash: modelHash}
	return c.cc.Invoke(ctx, fullMethod("ReinstateModel"), req, new(Empty))
}

func (c *Client) AnchorCheckpoint(ctx context.Context, in registry.AnchorCheckpointInput) (registry.Hash256, error) {
	req := &AnchorCheckpointRequest{
		Caller:             c.caller,
		MerkleRoot:         in.MerkleRoot,
		EnclaveMeasurement: in.EnclaveMeasurement,
		VendorTag:          in.VendorTag,
		Gateway:            in.Gateway,
		GatewaySignature:   in.GatewaySignature,
		BlockTime:          in.BlockTime,
	}
	resp := new(AnchorCheckpointResponse)
	if err := c.cc.Invoke(ctx, fullMethod("AnchorCheckpoint"), req, resp); err != nil {
		return registry.Hash256{}, err
	}
	return resp.CheckpointID, nil
}

func (c *Client) VerifyCheckpoint(ctx context.Context, checkpointID registry.Hash256) (bool, error) {
	req := &VerifyCheckpointRequest{Caller: c.caller, CheckpointID: checkpointID}
	resp := new(VerifyCheckpointResponse)
	if err := c.cc.Invoke(ctx, fullMethod("VerifyCheckpoint"), req, resp); err != nil {
		return false, err
	}
	return resp.Verified, nil
}

func (c *Client) EmergencyRevokeEnclave(ctx context.Context, measurement []byte, reason string) error {
	req := &RevokeEnclaveRequest{Caller: c.caller, Measurement: measurement, Reason: reason}
	return c.cc.Invoke(ctx, fullMethod("EmergencyRevokeEnclave"), req, new(Empty))
}

func (c *Client) ReinstateEnclave(ctx context.Context, measurement []byte) error {
	req := &RevokeEnclaveRequest{Caller: c.caller, Measurement: measurement}
	return c.cc.Invoke(ctx, fullMethod("ReinstateEnclave"), req, new(Empty))
}

func (c *Client) AddGateway(ctx context.Context, addr string) error {
	req := &GatewayRequest{Caller: c.caller, Addr: addr}
	return c.cc.Invoke(ctx, fullMethod("AddGateway"), req, new(Empty))
}

func (c *Client) RemoveGateway(ctx context.Context, addr string) error {
	req := &GatewayRequest{Caller: c.caller, Addr: addr}
	return c.cc.Invoke(ctx, fullMethod("RemoveGateway"), req, new(Empty))
}
