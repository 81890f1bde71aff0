package hostrpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

const connectServicePrefix = "/wibble.v1.WibbleHost/"

func connectHandler(procedure string, call func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error), s *Server) (string, http.Handler) {
	unary := func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		out, err := call(s, ctx, req.Msg)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return connect.NewResponse(out), nil
	}
	path := connectServicePrefix + procedure
	return path, connect.NewUnaryHandler(path, unary)
}

// Mux builds the dual gRPC/Connect front end for s, mounting one handler
// per host-API method on the returned ServeMux. Each handler negotiates
// Connect, gRPC, and gRPC-Web by content-type, so a single http.Server
// serving this mux is the whole front end.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	handlers := []struct {
		procedure string
		call      func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error)
	}{
		{"Run", (*Server).Run},
		{"Resume", (*Server).Resume},
		{"Cancel", (*Server).Cancel},
		{"ReadGlobal", (*Server).ReadGlobal},
		{"WriteGlobal", (*Server).WriteGlobal},
	}
	for _, h := range handlers {
		path, handler := connectHandler(h.procedure, h.call, s)
		mux.Handle(path, handler)
	}
	return mux
}
