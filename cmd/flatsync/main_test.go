package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/flatsync/flatsync/internal/cli"
)

func TestCLIInitialization(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := cli.Run(context.Background(), []string{"flatsync", "--help"})

	if closeErr := w.Close(); closeErr != nil {
		t.Fatalf("failed to close pipe writer: %v", closeErr)
	}
	os.Stdout = old

	var buf bytes.Buffer
	if _, copyErr := io.Copy(&buf, r); copyErr != nil {
		t.Fatalf("failed to read captured output: %v", copyErr)
	}

	if err != nil {
		t.Fatalf("CLI initialization failed: %v", err)
	}
	if !strings.Contains(buf.String(), "flatsync") {
		t.Errorf("help output missing application name: %q", buf.String())
	}
}
