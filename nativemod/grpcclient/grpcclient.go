// Package grpcclient is a native module giving a guest program the
// ability to make one dynamic, reflection-discovered gRPC call per SYS
// invocation. It mirrors the dial-then-reflect pattern chazu-maggie's own
// vm/grpc_primitives.go uses for its guest-facing GrpcClient object,
// adapted to mwrt's byte-array-shaped native ABI: the guest never needs a
// compiled .proto to call an arbitrary service, because the method's
// wire shape is resolved from the target server's own reflection
// endpoint at call time, and the request/response bodies are opaque
// pre-serialized protobuf bytes the guest already has (e.g. produced by
// its own compiler's proto support, or another native module).
package grpcclient

import (
	"context"
	"fmt"
	"time"

	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"

	"github.com/robey/mwrt/vm"
)

const dialTimeout = 5 * time.Second

// New returns the module declaration ready for vm.RegisterNative. Function
// indices: 0=call. call's arguments are byte-array refs holding the target
// address, the fully-qualified service name, the method name, and the
// serialized request message, all as raw bytes (no framing). Results are
// (ok, response_ref): ok is 0 on any dial/resolve/RPC failure, in which
// case response_ref is 0 and carries no byte-array.
func New() vm.NativeModule {
	return vm.NativeModule{
		Name: "grpcclient",
		Functions: []vm.NativeFunc{
			{Name: "call", ArityIn: 4, ArityOut: 2, Handler: call},
		},
	}
}

func call(c *vm.Cap, args []vm.Word) []vm.Word {
	fail := []vm.Word{vm.IntWord(0), vm.IntWord(0)}

	target, ok := c.ByteArrayBytes(args[0])
	if !ok {
		return fail
	}
	service, ok := c.ByteArrayBytes(args[1])
	if !ok {
		return fail
	}
	method, ok := c.ByteArrayBytes(args[2])
	if !ok {
		return fail
	}
	req, ok := c.ByteArrayBytes(args[3])
	if !ok {
		return fail
	}

	resp, err := invoke(string(target), string(service), string(method), req)
	if err != nil {
		return fail
	}

	ref := c.AllocateByteArray(len(resp))
	c.SetByteArrayBytes(ref, resp)
	return []vm.Word{vm.IntWord(1), ref}
}

// invoke dials target, resolves service/method through the target's own
// server-reflection service, and issues one unary RPC carrying req as an
// already-serialized message, returning the serialized response.
func invoke(target, service, method string, req []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.Dial(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	refClient := grpcreflect.NewClientV1Alpha(ctx, rpb.NewServerReflectionClient(conn))
	defer refClient.Reset()

	svcDesc, err := refClient.ResolveService(service)
	if err != nil {
		return nil, err
	}
	methodDesc := svcDesc.FindMethodByName(method)
	if methodDesc == nil {
		return nil, fmt.Errorf("grpcclient: method %q not found on %q", method, service)
	}

	reqMsg := dynamic.NewMessage(methodDesc.GetInputType())
	if err := reqMsg.Unmarshal(req); err != nil {
		return nil, err
	}
	respMsg := dynamic.NewMessage(methodDesc.GetOutputType())

	fullMethod := "/" + service + "/" + method
	if err := conn.Invoke(ctx, fullMethod, reqMsg, respMsg); err != nil {
		return nil, err
	}
	return respMsg.Marshal()
}
