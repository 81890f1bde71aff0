// wibble runs a micro-wibble image file against a fixed instruction
// budget, reporting the outcome via the exit codes fixed in the host API
// spec: 0 halted, 1 faulted, 2 load error, 3 cancelled, 4 CPU exhausted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/robey/mwrt/internal/hostrpc"
	"github.com/robey/mwrt/internal/manifest"
	"github.com/robey/mwrt/internal/rundb"
	"github.com/robey/mwrt/internal/snapshot"
	"github.com/robey/mwrt/nativemod/bytearray"
	"github.com/robey/mwrt/nativemod/grpcclient"
	"github.com/robey/mwrt/vm"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := newFlagSet()
	if err := fs.parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	config := vm.DefaultConfig()
	if fs.configPath != "" {
		if _, err := toml.DecodeFile(fs.configPath, &config); err != nil {
			fmt.Fprintf(os.Stderr, "wibble: reading config %s: %v\n", fs.configPath, err)
			return 2
		}
	}

	ring := vm.NewRingHandler(512)
	logLevel := slog.LevelInfo
	if fs.verbose {
		logLevel = slog.LevelDebug
	}
	logger := vm.NewLogger(os.Stderr, logLevel, ring)

	imageBytes, err := os.ReadFile(fs.imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wibble: %v\n", err)
		return 2
	}

	if fs.disasm {
		img, err := vm.LoadImage(imageBytes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wibble: load error: %v\n", err)
			return 2
		}
		text, err := vm.DisassembleCodeObject(img.Pool, img.MainRef.PoolByteOffset())
		if err != nil {
			fmt.Fprintf(os.Stderr, "wibble: %v\n", err)
			return 2
		}
		fmt.Print(text)
		return 0
	}

	inst, err := vm.NewVM(imageBytes, config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wibble: load error: %v\n", err)
		return 2
	}

	if fs.manifestPath != "" {
		m, err := manifest.Load(fs.manifestPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wibble: %v\n", err)
			return 2
		}
		if _, _, ok := m.FunctionIndex("bytearray", "alloc"); ok {
			inst.RegisterNative(bytearray.New())
		}
		if _, _, ok := m.FunctionIndex("grpcclient", "call"); ok {
			inst.RegisterNative(grpcclient.New())
		}
	} else {
		inst.RegisterNative(bytearray.New())
		inst.RegisterNative(grpcclient.New())
	}

	if fs.serve {
		return serve(inst, fs.serveAddr)
	}

	var history *rundb.DB
	if fs.dbPath != "" {
		history, err = rundb.Open(fs.dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wibble: %v\n", err)
			return 2
		}
		defer history.Close()
		_ = history.RecordStart(context.Background(), inst.InstanceID.String(), time.Now())
	}

	result := inst.Run()
	for result.Status == vm.StatusCpuExhausted && fs.autoResume {
		result = inst.Resume()
	}

	if history != nil {
		_ = history.RecordResult(context.Background(), inst.InstanceID.String(), time.Now(), result)
	}

	if fs.snapshotPath != "" && (result.Status == vm.StatusCancelled || result.Status == vm.StatusCpuExhausted) {
		if err := snapshot.WriteFile(fs.snapshotPath, inst.Capture()); err != nil {
			fmt.Fprintf(os.Stderr, "wibble: writing snapshot: %v\n", err)
		}
	}

	report(result)
	return result.Status.ExitCode()
}

// serve attaches inst to a host-API RPC front end and blocks, serving both
// gRPC and Connect (HTTP/JSON) from the same port and the same handler —
// a connect.NewUnaryHandler negotiates all three wire protocols by
// content-type, the same way chazu-maggie's own server.go serves its
// maggiev1connect handlers from one mux and one http.ListenAndServe call
// — until the process receives an interrupt. Run/Resume/Cancel are driven
// entirely by RPC clients from this point on; wibble itself never calls
// inst.Run.
func serve(inst *vm.VM, addr string) int {
	rpcServer := hostrpc.NewServer()
	rpcServer.Attach(inst)

	httpServer := &http.Server{Addr: addr, Handler: rpcServer.Mux()}

	fmt.Printf("wibble: serving instance %s on %s\n", inst.InstanceID, addr)
	fmt.Printf("  Connect (HTTP/JSON): http://%s/wibble.v1.WibbleHost/Run\n", addr)
	fmt.Printf("  gRPC (binary):       grpc://%s\n", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "wibble: server error: %v\n", err)
			return 1
		}
		return 0
	case <-sigCh:
		_ = httpServer.Close()
		return 0
	}
}

func report(result vm.Result) {
	switch result.Status {
	case vm.StatusHalted:
		fmt.Printf("halted: %v\n", result.Values)
	case vm.StatusFaulted:
		fmt.Fprintf(os.Stderr, "fault: %s\n", result.Fault.Kind)
		for _, f := range result.Fault.Trace {
			fmt.Fprintf(os.Stderr, "  at code@%d pc=%d\n", f.CodeOffset, f.PC)
		}
	case vm.StatusCancelled:
		fmt.Println("cancelled")
	case vm.StatusCpuExhausted:
		fmt.Println("cpu budget exhausted")
	}
}
