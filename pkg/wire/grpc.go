package wire

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	CodecName   = "zkwire"
	ServiceName = "zkasync.Ensemble"
	// SessionMethod is the full method name of the bidirectional session stream.
	SessionMethod = "/" + ServiceName + "/Session"
)

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec lets frames travel over gRPC without generated message types.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("wire: cannot marshal %T", v)
	}
	return Marshal(f), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("wire: cannot unmarshal into %T", v)
	}
	return f.unmarshal(data)
}

func (Codec) Name() string {
	return CodecName
}

// EnsembleServer is implemented by anything that can serve session streams.
type EnsembleServer interface {
	Session(stream grpc.ServerStream) error
}

// SessionStreamDesc describes the session stream for both ends.
var SessionStreamDesc = grpc.StreamDesc{
	StreamName:    "Session",
	ServerStreams: true,
	ClientStreams: true,
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EnsembleServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    SessionStreamDesc.StreamName,
			Handler:       sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "zkasync/ensemble",
}

func sessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(EnsembleServer).Session(stream)
}

// RegisterEnsembleServer registers srv on s under the ensemble service.
func RegisterEnsembleServer(s *grpc.Server, srv EnsembleServer) {
	s.RegisterService(&serviceDesc, srv)
}
