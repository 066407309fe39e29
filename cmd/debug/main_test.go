package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lithammer/dedent"
)

var source = strings.TrimLeft(dedent.Dedent(`
	/**
	 * @opcode      0x00
	 * @opmnemonic  add
	 * @opmaps      one
	 */
	FNIEMOP_STUB(iemOp_add_Eb_Gb);

	/** @opcode 0x01 */
	FNIEMOP_STUB(iemOp_add_Ev_Gv);
`), "\n")

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "one.cpp.h")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDebugLine(t *testing.T) {
	path := writeSource(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-line", "3", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d\n%s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "comment [1:0-5:3]") {
		t.Fatalf("expected the comment node first:\n%s", out)
	}
	if strings.Count(out, "(model.InstructionView)") != 1 || !strings.Contains(out, "mnemonic=add") {
		t.Fatalf("expected exactly the add instruction:\n%s", out)
	}
}

func TestDebugFunc(t *testing.T) {
	path := writeSource(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-func", "iemOp_add_Ev_Gv", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d\n%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "opcode=0x01") {
		t.Fatalf("unexpected dump:\n%s", stdout.String())
	}
}

func TestDebugUsage(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"-line", "1", "-func", "x", "a.cpp.h"}, &bytes.Buffer{}, &stderr); code != 2 {
		t.Fatalf("exit %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Fatalf("missing usage:\n%s", stderr.String())
	}
}
