// Package turbodprotocol defines the gRPC surface between a turbo
// invocation and the per-repo background daemon (turbod). The messages are
// plain structs carried by a JSON codec rather than protobuf-generated
// types: the daemon and CLI always ship in the same binary, so the wire
// format only needs to agree with itself.
package turbodprotocol

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// CodecName identifies the JSON codec in gRPC content-subtype negotiation.
const CodecName = "turbodjson"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// HelloRequest carries the client's version for compatibility checking.
type HelloRequest struct {
	Version   string `json:"version"`
	SessionID string `json:"sessionId,omitempty"`
}

// HelloResponse is empty; a non-error response means the versions match.
type HelloResponse struct{}

// ShutdownRequest asks the daemon to exit.
type ShutdownRequest struct{}

// ShutdownResponse is empty; a non-error response means shutdown began.
type ShutdownResponse struct{}

// StatusRequest asks the daemon for its status.
type StatusRequest struct{}

// StatusResponse carries the daemon's status.
type StatusResponse struct {
	DaemonStatus *DaemonStatus `json:"daemonStatus"`
}

// DaemonStatus describes a running daemon.
type DaemonStatus struct {
	LogFile    string `json:"logFile"`
	UptimeMsec uint64 `json:"uptimeMsec"`
}

// NotifyOutputsWrittenRequest tells the daemon which globs were cached
// under which hash, so it can watch them for changes.
type NotifyOutputsWrittenRequest struct {
	Hash                 string   `json:"hash"`
	OutputGlobs          []string `json:"outputGlobs"`
	OutputExclusionGlobs []string `json:"outputExclusionGlobs"`
	TimeSaved            uint64   `json:"timeSaved"`
}

// NotifyOutputsWrittenResponse is empty.
type NotifyOutputsWrittenResponse struct{}

// GetChangedOutputsRequest asks which of the given globs have changed
// since the hash was cached.
type GetChangedOutputsRequest struct {
	Hash        string   `json:"hash"`
	OutputGlobs []string `json:"outputGlobs"`
}

// GetChangedOutputsResponse lists the globs that may have changed.
type GetChangedOutputsResponse struct {
	ChangedOutputGlobs []string `json:"changedOutputGlobs"`
	TimeSaved          uint64   `json:"timeSaved"`
}

const _serviceName = "turbodprotocol.Turbod"

// TurbodClient is the client API for the Turbod service.
type TurbodClient interface {
	Hello(ctx context.Context, in *HelloRequest, opts ...grpc.CallOption) (*HelloResponse, error)
	Shutdown(ctx context.Context, in *ShutdownRequest, opts ...grpc.CallOption) (*ShutdownResponse, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
	NotifyOutputsWritten(ctx context.Context, in *NotifyOutputsWrittenRequest, opts ...grpc.CallOption) (*NotifyOutputsWrittenResponse, error)
	GetChangedOutputs(ctx context.Context, in *GetChangedOutputsRequest, opts ...grpc.CallOption) (*GetChangedOutputsResponse, error)
}

type turbodClient struct {
	cc grpc.ClientConnInterface
}

// NewTurbodClient wraps a client connection in the typed Turbod client.
func NewTurbodClient(cc grpc.ClientConnInterface) TurbodClient {
	return &turbodClient{cc: cc}
}

func (c *turbodClient) invoke(ctx context.Context, method string, in interface{}, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+_serviceName+"/"+method, in, out, opts...)
}

func (c *turbodClient) Hello(ctx context.Context, in *HelloRequest, opts ...grpc.CallOption) (*HelloResponse, error) {
	out := new(HelloResponse)
	if err := c.invoke(ctx, "Hello", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *turbodClient) Shutdown(ctx context.Context, in *ShutdownRequest, opts ...grpc.CallOption) (*ShutdownResponse, error) {
	out := new(ShutdownResponse)
	if err := c.invoke(ctx, "Shutdown", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *turbodClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.invoke(ctx, "Status", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *turbodClient) NotifyOutputsWritten(ctx context.Context, in *NotifyOutputsWrittenRequest, opts ...grpc.CallOption) (*NotifyOutputsWrittenResponse, error) {
	out := new(NotifyOutputsWrittenResponse)
	if err := c.invoke(ctx, "NotifyOutputsWritten", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *turbodClient) GetChangedOutputs(ctx context.Context, in *GetChangedOutputsRequest, opts ...grpc.CallOption) (*GetChangedOutputsResponse, error) {
	out := new(GetChangedOutputsResponse)
	if err := c.invoke(ctx, "GetChangedOutputs", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// TurbodServer is the server API for the Turbod service. Implementations
// must embed UnimplementedTurbodServer for forward compatibility.
type TurbodServer interface {
	Hello(ctx context.Context, req *HelloRequest) (*HelloResponse, error)
	Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error)
	Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
	NotifyOutputsWritten(ctx context.Context, req *NotifyOutputsWrittenRequest) (*NotifyOutputsWrittenResponse, error)
	GetChangedOutputs(ctx context.Context, req *GetChangedOutputsRequest) (*GetChangedOutputsResponse, error)
	mustEmbedUnimplementedTurbodServer()
}

// UnimplementedTurbodServer must be embedded to have forward compatible implementations.
type UnimplementedTurbodServer struct{}

// Hello returns Unimplemented.
func (UnimplementedTurbodServer) Hello(context.Context, *HelloRequest) (*HelloResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Hello not implemented")
}

// Shutdown returns Unimplemented.
func (UnimplementedTurbodServer) Shutdown(context.Context, *ShutdownRequest) (*ShutdownResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Shutdown not implemented")
}

// Status returns Unimplemented.
func (UnimplementedTurbodServer) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Status not implemented")
}

// NotifyOutputsWritten returns Unimplemented.
func (UnimplementedTurbodServer) NotifyOutputsWritten(context.Context, *NotifyOutputsWrittenRequest) (*NotifyOutputsWrittenResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method NotifyOutputsWritten not implemented")
}

// GetChangedOutputs returns Unimplemented.
func (UnimplementedTurbodServer) GetChangedOutputs(context.Context, *GetChangedOutputsRequest) (*GetChangedOutputsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetChangedOutputs not implemented")
}

func (UnimplementedTurbodServer) mustEmbedUnimplementedTurbodServer() {}

// RegisterTurbodServer registers srv on the given gRPC registrar.
func RegisterTurbodServer(s grpc.ServiceRegistrar, srv TurbodServer) {
	s.RegisterService(&Turbod_ServiceDesc, srv)
}

func unaryHandler(method string, call func(TurbodServer, context.Context, interface{}) (interface{}, error), newIn func() interface{}) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newIn()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TurbodServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + _serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TurbodServer), ctx, req)
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Turbod_ServiceDesc is the grpc.ServiceDesc for the Turbod service.
var Turbod_ServiceDesc = grpc.ServiceDesc{
	ServiceName: _serviceName,
	HandlerType: (*TurbodServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Hello",
			Handler: unaryHandler("Hello", func(srv TurbodServer, ctx context.Context, in interface{}) (interface{}, error) {
				return srv.Hello(ctx, in.(*HelloRequest))
			}, func() interface{} { return new(HelloRequest) }),
		},
		{
			MethodName: "Shutdown",
			Handler: unaryHandler("Shutdown", func(srv TurbodServer, ctx context.Context, in interface{}) (interface{}, error) {
				return srv.Shutdown(ctx, in.(*ShutdownRequest))
			}, func() interface{} { return new(ShutdownRequest) }),
		},
		{
			MethodName: "Status",
			Handler: unaryHandler("Status", func(srv TurbodServer, ctx context.Context, in interface{}) (interface{}, error) {
				return srv.Status(ctx, in.(*StatusRequest))
			}, func() interface{} { return new(StatusRequest) }),
		},
		{
			MethodName: "NotifyOutputsWritten",
			Handler: unaryHandler("NotifyOutputsWritten", func(srv TurbodServer, ctx context.Context, in interface{}) (interface{}, error) {
				return srv.NotifyOutputsWritten(ctx, in.(*NotifyOutputsWrittenRequest))
			}, func() interface{} { return new(NotifyOutputsWrittenRequest) }),
		},
		{
			MethodName: "GetChangedOutputs",
			Handler: unaryHandler("GetChangedOutputs", func(srv TurbodServer, ctx context.Context, in interface{}) (interface{}, error) {
				return srv.GetChangedOutputs(ctx, in.(*GetChangedOutputsRequest))
			}, func() interface{} { return new(GetChangedOutputsRequest) }),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "turbod.proto",
}
