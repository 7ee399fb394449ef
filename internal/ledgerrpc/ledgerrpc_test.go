package ledgerrpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/stretchr/testify/require"

	"github.com/tala-robotics/sentinel/internal/ledgerrpc"
	"github.com/tala-robotics/sentinel/internal/registry"
)

func startServer(t *testing.T, reg *registry.Registry) (string, func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := grpc.NewServer()
	ledgerrpc.NewServer(reg).Register(s)

	go func() {
		_ = s.Serve(lis)
	}()

	return lis.Addr().String(), s.GracefulStop
}

func dial(t *testing.T, addr string, subject registry.Subject) *ledgerrpc.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := ledgerrpc.Dial(ctx, addr, subject, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	return client
}

func hashOf(b byte) registry.Hash256 {
	var h registry.Hash256
	h[0] = b
	return h
}

func TestLedgerServiceRegisterAndVerifyOverGRPC(t *testing.T) {
	sink := &registry.RecordingSink{}
	reg := registry.New(sink)
	addr, stop := startServer(t, reg)
	defer stop()

	anon := dial(t, addr, registry.Subject{ID: "robot-fleet-1"})
	defer anon.Close()

	gw := dial(t, addr, registry.Subject{ID: "gw-1", Roles: []registry.Role{registry.RoleGateway}})
	defer gw.Close()

	ctx := context.Background()

	require.NoError(t, anon.RegisterModel(ctx, registry.RegisterModelInput{
		ModelHash: hashOf(1),
		Name:      "vision-v1",
	}))

	checkpointID, err := gw.AnchorCheckpoint(ctx, registry.AnchorCheckpointInput{
		MerkleRoot:         hashOf(9),
		EnclaveMeasurement: []byte("measurement-a"),
		VendorTag:          "intel-sgx",
		Gateway:            "gw-1",
		GatewaySignature:   []byte("gateway-signature-bytes"),
		BlockTime:          1000,
	})
	require.NoError(t, err)

	verified, err := anon.VerifyCheckpoint(ctx, checkpointID)
	require.NoError(t, err)
	require.True(t, verified)

	require.Len(t, sink.Events, 2, "RegisterModel and AnchorCheckpoint each emit one event")
	anchored, ok := sink.Events[1].(registry.CheckpointAnchored)
	require.True(t, ok)
	require.Equal(t, []byte("gateway-signature-bytes"), anchored.GatewaySignature, "gateway_signature must survive the gRPC round trip")
}

func TestLedgerServiceRejectsUnauthorizedAnchor(t *testing.T) {
	reg := registry.New(nil)
	addr, stop := startServer(t, reg)
	defer stop()

	anon := dial(t, addr, registry.Subject{ID: "robot-fleet-1"})
	defer anon.Close()

	_, err := anon.AnchorCheckpoint(context.Background(), registry.AnchorCheckpointInput{
		MerkleRoot:         hashOf(9),
		EnclaveMeasurement: []byte("measurement-a"),
		Gateway:            "gw-1",
		BlockTime:          1000,
	})
	require.Error(t, err)
}

func TestLedgerServiceGovernanceRevokeOverGRPC(t *testing.T) {
	reg := registry.New(nil)
	addr, stop := startServer(t, reg)
	defer stop()

	gov := dial(t, addr, registry.Subject{ID: "gov-1", Roles: []registry.Role{registry.RoleGovernance}})
	defer gov.Close()

	anon := dial(t, addr, registry.Subject{ID: "robot-fleet-1"})
	defer anon.Close()

	ctx := context.Background()
	require.NoError(t, anon.RegisterModel(ctx, registry.RegisterModelInput{ModelHash: hashOf(3)}))
	require.NoError(t, gov.RevokeModel(ctx, hashOf(3)))
	require.True(t, reg.IsModelRevoked(hashOf(3)))
}
