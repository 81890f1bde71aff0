package vm

import (
	"log/slog"

	"github.com/google/uuid"
)

// Status is the outcome variant of a Run or Resume call.
type Status int

const (
	StatusHalted Status = iota
	StatusCancelled
	StatusCpuExhausted
	StatusFaulted
)

func (s Status) String() string {
	switch s {
	case StatusHalted:
		return "Halted"
	case StatusCancelled:
		return "Cancelled"
	case StatusCpuExhausted:
		return "CpuExhausted"
	case StatusFaulted:
		return "Faulted"
	default:
		return "Status(?)"
	}
}

// ExitCode maps a Status onto the CLI's fixed exit codes.
func (s Status) ExitCode() int {
	switch s {
	case StatusHalted:
		return 0
	case StatusFaulted:
		return 1
	case StatusCancelled:
		return 3
	case StatusCpuExhausted:
		return 4
	default:
		return 1
	}
}

// Result is what Run/Resume return.
type Result struct {
	Status Status
	Values []Word // set when Status == StatusHalted
	Fault  *Fault // set when Status == StatusFaulted
}

// VM is the host-facing handle to one running instance: its own pool,
// heap, globals and call chain, its native module table, and an identity
// a host can use to correlate log lines and run-history rows across
// restarts.
type VM struct {
	InstanceID uuid.UUID

	interp *Interpreter
	logger *slog.Logger
}

// NewVM parses an image and constructs a VM ready to Run. It does not
// execute any guest code.
func NewVM(imageBytes []byte, config Config, logger *slog.Logger) (*VM, error) {
	img, err := LoadImage(imageBytes)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	heap := NewHeap(config.HeapSizeWords)
	interp := newInterpreter(img.Pool, heap, img.GlobalCount, config)
	if err := interp.start(img.MainRef); err != nil {
		return nil, err
	}

	id := uuid.New()
	instanceLogger := logger.With("vm_instance", id.String())
	instanceLogger.Debug("vm constructed",
		"heap_size_words", config.HeapSizeWords,
		"instruction_budget", config.InstructionBudget,
		"max_call_depth", config.MaxCallDepth,
		"global_count", img.GlobalCount,
		"word_bits", WordBits,
	)

	return &VM{InstanceID: id, interp: interp, logger: instanceLogger}, nil
}

// Run begins execution at the entry point and runs until a halt,
// suspension, or fault. Calling Run more than once behaves like Resume.
func (vm *VM) Run() Result {
	result := vm.interp.run()
	vm.logResult(result)
	return result
}

// Resume continues execution after a prior Cancelled or CpuExhausted
// result.
func (vm *VM) Resume() Result {
	result := vm.interp.run()
	vm.logResult(result)
	return result
}

func (vm *VM) logResult(r Result) {
	switch r.Status {
	case StatusFaulted:
		vm.logger.Warn("vm faulted", "kind", r.Fault.Kind.String(), "frames", len(r.Fault.Trace))
	case StatusHalted:
		vm.logger.Debug("vm halted", "result_count", len(r.Values))
	default:
		vm.logger.Debug("vm suspended", "status", r.Status.String())
	}
}

// Cancel requests that execution suspend with StatusCancelled at the next
// instruction boundary. Safe to call from another goroutine.
func (vm *VM) Cancel() {
	vm.interp.cancel()
}

// RegisterNative adds a native module, returning its module index for use
// in SYS immediates.
func (vm *VM) RegisterNative(m NativeModule) int {
	return vm.interp.natives.Register(m)
}

// ReadGlobal and WriteGlobal give the host direct access to the global
// vector between Run/Resume calls.
func (vm *VM) ReadGlobal(i int) (Word, bool)  { return vm.interp.hostReadGlobal(i) }
func (vm *VM) WriteGlobal(i int, w Word) bool { return vm.interp.hostWriteGlobal(i, w) }

// Logger returns the per-instance logger, already tagged with this VM's
// InstanceID.
func (vm *VM) Logger() *slog.Logger { return vm.logger }

func defaultLogger() *slog.Logger { return slog.Default() }

func parseOrNewUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}
