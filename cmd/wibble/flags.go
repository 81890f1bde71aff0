package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

type flagSet struct {
	fs *flag.FlagSet

	imagePath    string
	configPath   string
	manifestPath string
	dbPath       string
	snapshotPath string
	verbose      bool
	autoResume   bool
	disasm       bool
	serve        bool
	serveAddr    string
}

func newFlagSet() *flagSet {
	fs := flag.NewFlagSet("wibble", flag.ContinueOnError)
	f := &flagSet{fs: fs}

	fs.StringVar(&f.configPath, "config", "", "TOML resource-cap config file")
	fs.StringVar(&f.manifestPath, "manifest", "", "native module manifest file")
	fs.StringVar(&f.dbPath, "history", "", "SQLite run-history database path")
	fs.StringVar(&f.snapshotPath, "snapshot-out", "", "write a resumable snapshot here on suspend")
	fs.BoolVar(&f.verbose, "v", false, "verbose (debug-level) logging")
	fs.BoolVar(&f.autoResume, "resume-until-halt", false, "keep resuming across CpuExhausted until the VM halts or faults")
	fs.BoolVar(&f.disasm, "disasm", false, "print the entry point's disassembly instead of running it")
	fs.BoolVar(&f.serve, "serve", false, "load the image, attach it to a host-API server (gRPC + Connect), and wait for RPC-driven Run/Resume/Cancel calls instead of running it directly")
	fs.StringVar(&f.serveAddr, "addr", ":4567", "listen address for -serve")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wibble [options] <image-file>\n\n")
		fmt.Fprintf(os.Stderr, "Runs a micro-wibble image to completion or suspension.\n")
		fmt.Fprintf(os.Stderr, "With -disasm, prints the entry point's bytecode instead of running it.\n")
		fmt.Fprintf(os.Stderr, "With -serve, exposes the loaded instance over gRPC + Connect instead.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return f
}

func (f *flagSet) parse(args []string) error {
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	rest := f.fs.Args()
	if len(rest) != 1 {
		f.fs.Usage()
		return errors.New("wibble: exactly one image file argument is required")
	}
	f.imagePath = rest[0]
	return nil
}
