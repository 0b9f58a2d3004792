package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/protocol"
)

// fakeBackend answers every RPC deterministically so the test only exercises
// the codec and ServiceDesc wiring, not any session semantics.
type fakeBackend struct{}

func (fakeBackend) OpenSession(_ context.Context, req *protocol.OpenSessionRequest) (*protocol.OpenSessionResponse, error) {
	return &protocol.OpenSessionResponse{Status: protocol.StatusOK, SessionID: ids.SessionID(7), Timeout: req.Timeout}, nil
}

func (fakeBackend) CloseSession(context.Context, *protocol.CloseSessionRequest) (*protocol.CloseSessionResponse, error) {
	return &protocol.CloseSessionResponse{Status: protocol.StatusOK}, nil
}

func (fakeBackend) KeepAlive(_ context.Context, req *protocol.KeepAliveRequest) (*protocol.KeepAliveResponse, error) {
	return &protocol.KeepAliveResponse{Status: protocol.StatusOK, SessionID: req.SessionID, Succeeded: true}, nil
}

func (fakeBackend) Command(_ context.Context, req *protocol.CommandRequest) (*protocol.CommandResponse, error) {
	if req.Name == "fail" {
		return &protocol.CommandResponse{
			Status: protocol.StatusError,
			Error:  &protocol.Error{Type: protocol.ErrCommandFailure},
		}, nil
	}
	return &protocol.CommandResponse{Status: protocol.StatusOK, Sequence: req.RequestSequence, Output: req.Operation}, nil
}

func (fakeBackend) Query(_ context.Context, req *protocol.QueryRequest) (*protocol.QueryResponse, error) {
	return &protocol.QueryResponse{Status: protocol.StatusOK, Output: req.Operation}, nil
}

func (fakeBackend) Metadata(_ context.Context, req *protocol.MetadataRequest) (*protocol.MetadataResponse, error) {
	return &protocol.MetadataResponse{Status: protocol.StatusOK, Sessions: []ids.SessionID{1, 2, 3}}, nil
}

func startBufconnServer(t *testing.T, backend Backend) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	Register(srv, backend, NewHub())
	go func() { _ = srv.Serve(lis) }()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	return conn, func() {
		_ = conn.Close()
		srv.Stop()
	}
}

func TestUnaryRoundTripThroughJSONCodec(t *testing.T) {
	conn, cleanup := startBufconnServer(t, fakeBackend{})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := &protocol.OpenSessionRequest{ServiceType: "map", ServiceName: "inventory", Timeout: 10 * time.Second}
	resp := new(protocol.OpenSessionResponse)
	err := conn.Invoke(ctx, "/"+serviceName+"/OpenSession", req, resp, grpc.CallContentSubtype(codecName))
	require.NoError(t, err)
	assert.Equal(t, ids.SessionID(7), resp.SessionID)
	assert.Equal(t, 10*time.Second, resp.Timeout)
}

func TestApplicationErrorSurvivesRoundTrip(t *testing.T) {
	conn, cleanup := startBufconnServer(t, fakeBackend{})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := &protocol.CommandRequest{SessionID: 1, RequestSequence: 1, Name: "fail"}
	resp := new(protocol.CommandResponse)
	err := conn.Invoke(ctx, "/"+serviceName+"/Command", req, resp, grpc.CallContentSubtype(codecName))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCommandFailure, resp.Error.Type)
}

func TestDialerIssuesAllSixRPCs(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	Register(srv, fakeBackend{}, NewHub())
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	dialOpt := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	dialer := NewDialer(func(ids.MemberID) (string, error) {
		return "passthrough:///bufnet", nil
	}, dialOpt)
	defer dialer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	member := ids.MemberID("node-1")

	openResp, err := dialer.OpenSession(ctx, member, &protocol.OpenSessionRequest{ServiceType: "map", ServiceName: "x"})
	require.NoError(t, err)
	assert.Equal(t, ids.SessionID(7), openResp.SessionID)

	closeResp, err := dialer.CloseSession(ctx, member, &protocol.CloseSessionRequest{SessionID: 7})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, closeResp.Status)

	kaResp, err := dialer.KeepAlive(ctx, member, &protocol.KeepAliveRequest{SessionID: 7})
	require.NoError(t, err)
	assert.True(t, kaResp.Succeeded)

	cmdResp, err := dialer.Command(ctx, member, &protocol.CommandRequest{SessionID: 7, RequestSequence: 1, Operation: []byte("payload")})
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), cmdResp.Output)

	qResp, err := dialer.Query(ctx, member, &protocol.QueryRequest{SessionID: 7, Operation: []byte("q")})
	require.NoError(t, err)
	assert.Equal(t, []byte("q"), qResp.Output)

	mdResp, err := dialer.Metadata(ctx, member, &protocol.MetadataRequest{ServiceType: "map", ServiceName: "x"})
	require.NoError(t, err)
	assert.Len(t, mdResp.Sessions, 3)
}

func TestDialerResolveErrorIsSurfaced(t *testing.T) {
	dialer := NewDialer(func(ids.MemberID) (string, error) {
		return "", errors.New("unknown member")
	})
	_, err := dialer.OpenSession(context.Background(), ids.MemberID("ghost"), &protocol.OpenSessionRequest{})
	require.Error(t, err)
}
