package hostlog

import (
	"bufio"
	"io"
	"os"
	"strings"
	"testing"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stdout
	os.Stdout = w
	fn()
	os.Stdout = old
	w.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	io.Copy(io.Discard, r)
	return sb.String()
}

func TestWarningAndErrorAlwaysPrint(t *testing.T) {
	w := New(false, false)
	out := captureStdout(t, func() {
		w.Warning("disk %s full", "low")
		w.Error("probe failed: %v", "timeout")
	})
	if !strings.Contains(out, "[WARNING] disk low full") {
		t.Errorf("missing warning line, got: %q", out)
	}
	if !strings.Contains(out, "[ERROR] probe failed: timeout") {
		t.Errorf("missing error line, got: %q", out)
	}
}

func TestVerboseGatedOnFlag(t *testing.T) {
	w := New(false, false)
	out := captureStdout(t, func() { w.V("should not appear") })
	if out != "" {
		t.Fatalf("expected no output when Verbose/Extreme are off, got %q", out)
	}

	w = New(true, false)
	out = captureStdout(t, func() { w.V("trace %d", 1) })
	if !strings.Contains(out, "[V] trace 1") {
		t.Fatalf("expected verbose line when Verbose is on, got %q", out)
	}
}

func TestWireTraceGatedOnExtreme(t *testing.T) {
	w := New(true, false)
	out := captureStdout(t, func() { w.E("wire trace") })
	if out != "" {
		t.Fatalf("expected no [E] output when Extreme is off even with Verbose on, got %q", out)
	}

	w = New(false, true)
	out = captureStdout(t, func() { w.E("wire trace") })
	if !strings.Contains(out, "[E] wire trace") {
		t.Fatalf("expected wire trace line when Extreme is on, got %q", out)
	}
}

func TestNZBDirectiveFormat(t *testing.T) {
	w := New(false, false)
	out := captureStdout(t, func() { w.NZBDirective("PAUSED", "yes") })
	if out != "[NZB] PAUSED=yes\n" {
		t.Fatalf("unexpected directive line: %q", out)
	}
}
