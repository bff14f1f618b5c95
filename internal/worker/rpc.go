package worker

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The decryptor service exchanges google.protobuf.Struct messages so both
// sides can share this descriptor without generated code.
//
//	Run request:  {"args": [string...]}
//	Run response: {"stdout": string, "stderr": string, "exit_code": number, "duration_ms": number}
//
// A process that could not be started is reported as codes.Unavailable.
const (
	ServiceName   = "loggenie.decryptor.v1.Decryptor"
	RunFullMethod = "/" + ServiceName + "/Run"
)

type DecryptorServer interface {
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var DecryptorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DecryptorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "loggenie/decryptor/v1/decryptor.proto",
}

func RegisterDecryptorServer(s grpc.ServiceRegistrar, srv DecryptorServer) {
	s.RegisterService(&DecryptorServiceDesc, srv)
}

func runHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DecryptorServer).Run(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DecryptorServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func EncodeArgs(args []string) (*structpb.Struct, error) {
	list := make([]any, len(args))
	for i, a := range args {
		list[i] = a
	}
	return structpb.NewStruct(map[string]any{"args": list})
}

func DecodeArgs(req *structpb.Struct) ([]string, error) {
	v, ok := req.GetFields()["args"]
	if !ok {
		return nil, fmt.Errorf("missing args")
	}
	values := v.GetListValue().GetValues()
	args := make([]string, 0, len(values))
	for i, item := range values {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("args[%d] is not a string", i)
		}
		args = append(args, s.StringValue)
	}
	return args, nil
}

func EncodeResult(res Result) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"stdout":      res.Stdout,
		"stderr":      res.Stderr,
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func DecodeResult(resp *structpb.Struct) Result {
	f := resp.GetFields()
	return Result{
		Stdout:   f["stdout"].GetStringValue(),
		Stderr:   f["stderr"].GetStringValue(),
		ExitCode: int(f["exit_code"].GetNumberValue()),
		Duration: msToDuration(f["duration_ms"].GetNumberValue()),
	}
}
