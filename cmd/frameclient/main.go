package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/framesocket"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run sends the named file as one request frame and prints the response
// payload. It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("frameclient", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "127.0.0.1:8080", "server address")
	timeout := fs.Duration("timeout", 30*time.Second, "exchange timeout")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: frameclient [-addr host:port] <input_file>\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}

	if err := send(ctx, *addr, fs.Arg(0), *timeout, stdout); err != nil {
		fmt.Fprintf(stderr, "frameclient: %v\n", err)
		return 1
	}
	return 0
}

func send(ctx context.Context, addr, path string, timeout time.Duration, stdout io.Writer) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read input file")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := framesocket.Exchange(ctx, addr, payload)
	if err != nil {
		return err
	}

	if _, err := stdout.Write(resp); err != nil {
		return errors.Wrap(err, "write response")
	}
	return nil
}
