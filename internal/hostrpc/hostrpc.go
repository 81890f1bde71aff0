// Package hostrpc exposes the host API (Run, Resume, Cancel, ReadGlobal,
// WriteGlobal) of one or more running VM instances over gRPC and Connect
// from the same port, the same shape chazu-maggie's language server wraps
// its own VM in.
//
// There is no compiler-generated request/response type for this service:
// requests and responses are carried as google.protobuf.Struct, the
// pre-built dynamic-JSON-object message from the protobuf well-known
// types. That keeps every wire type a real, already-compiled proto.Message
// satisfying connect's generic handler signatures, without hand-authoring
// .proto-derived stubs; connect's handlers negotiate the Connect, gRPC and
// gRPC-Web wire protocols on the same endpoint by content-type, so one
// http.Server on one port serves all three, the same way
// MaggieServer.ListenAndServe does.
package hostrpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/robey/mwrt/vm"
)

// Server is the host-facing RPC front end for a set of live VM instances.
// A caller Attaches instances by their InstanceID and then drives them
// remotely with Run/Resume/Cancel/ReadGlobal/WriteGlobal calls carried as
// structpb.Struct requests.
type Server struct {
	mu        sync.Mutex
	instances map[string]*vm.VM
}

// NewServer returns an empty RPC front end. Instances must be Attached
// before a client can address them.
func NewServer() *Server {
	return &Server{instances: make(map[string]*vm.VM)}
}

// Attach registers v under its InstanceID so RPC clients can address it.
func (s *Server) Attach(v *vm.VM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[v.InstanceID.String()] = v
}

// Detach removes an instance from the registry, e.g. once a caller has
// drained it to Halted or Faulted and no longer needs remote access.
func (s *Server) Detach(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, instanceID)
}

func (s *Server) lookup(instanceID string) (*vm.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.instances[instanceID]
	if !ok {
		return nil, errors.Errorf("hostrpc: no attached instance %q", instanceID)
	}
	return v, nil
}

func stringField(req *structpb.Struct, name string) (string, error) {
	v, ok := req.Fields[name]
	if !ok {
		return "", errors.Errorf("hostrpc: request missing field %q", name)
	}
	s, ok := v.Kind.(*structpb.Value_StringValue)
	if !ok {
		return "", errors.Errorf("hostrpc: field %q is not a string", name)
	}
	return s.StringValue, nil
}

func numberField(req *structpb.Struct, name string) (int, error) {
	v, ok := req.Fields[name]
	if !ok {
		return 0, errors.Errorf("hostrpc: request missing field %q", name)
	}
	n, ok := v.Kind.(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.Errorf("hostrpc: field %q is not a number", name)
	}
	return int(n.NumberValue), nil
}

// Run runs the named instance to completion or suspension, exactly as
// VM.Run does, and reports the outcome as a structpb.Struct.
func (s *Server) Run(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	instanceID, err := stringField(req, "instance_id")
	if err != nil {
		return nil, err
	}
	v, err := s.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return resultToStruct(v.Run())
}

// Resume continues a Cancelled/CpuExhausted instance, exactly as
// VM.Resume does.
func (s *Server) Resume(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	instanceID, err := stringField(req, "instance_id")
	if err != nil {
		return nil, err
	}
	v, err := s.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return resultToStruct(v.Resume())
}

// Cancel requests cooperative suspension of a running instance's next
// Run/Resume call.
func (s *Server) Cancel(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	instanceID, err := stringField(req, "instance_id")
	if err != nil {
		return nil, err
	}
	v, err := s.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	v.Cancel()
	return structpb.NewStruct(map[string]interface{}{"ok": true})
}

// ReadGlobal reads global slot "index" of the named instance.
func (s *Server) ReadGlobal(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	instanceID, err := stringField(req, "instance_id")
	if err != nil {
		return nil, err
	}
	index, err := numberField(req, "index")
	if err != nil {
		return nil, err
	}
	v, err := s.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	w, ok := v.ReadGlobal(index)
	if !ok {
		return nil, errors.Errorf("hostrpc: global index %d out of range", index)
	}
	return structpb.NewStruct(map[string]interface{}{"value": float64(w.AsInt())})
}

// WriteGlobal writes global slot "index" of the named instance to "value".
func (s *Server) WriteGlobal(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	instanceID, err := stringField(req, "instance_id")
	if err != nil {
		return nil, err
	}
	index, err := numberField(req, "index")
	if err != nil {
		return nil, err
	}
	value, err := numberField(req, "value")
	if err != nil {
		return nil, err
	}
	v, err := s.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	if !v.WriteGlobal(index, vm.IntWord(vm.SWord(value))) {
		return nil, errors.Errorf("hostrpc: global index %d out of range", index)
	}
	return structpb.NewStruct(map[string]interface{}{"ok": true})
}

// resultToStruct encodes a vm.Result as a structpb.Struct. Word values are
// carried as float64, so values outside +/-2^53 lose precision on the
// wire; this RPC surface is a remote-control and observability channel,
// not the guest-facing host API, so that tradeoff is acceptable here.
func resultToStruct(r vm.Result) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"status": r.Status.String(),
	}
	if r.Status == vm.StatusHalted {
		values := make([]interface{}, len(r.Values))
		for i, w := range r.Values {
			values[i] = float64(w.AsInt())
		}
		fields["values"] = values
	}
	if r.Fault != nil {
		trace := make([]interface{}, len(r.Fault.Trace))
		for i, fr := range r.Fault.Trace {
			trace[i] = map[string]interface{}{
				"code_offset": float64(fr.CodeOffset),
				"pc":          float64(fr.PC),
			}
		}
		fields["fault"] = map[string]interface{}{
			"kind":  fmt.Sprint(r.Fault.Kind),
			"trace": trace,
		}
	}
	return structpb.NewStruct(fields)
}
