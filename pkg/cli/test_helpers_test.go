package cli

import (
	"bytes"
	"os"
	"testing"
)

// captureStdout swaps os.Stdout for a pipe until the returned func is called.
func captureStdout(t *testing.T) func() string {
	t.Helper()
	return captureFile(t, &os.Stdout)
}

func captureFile(t *testing.T, target **os.File) func() string {
	t.Helper()
	old := *target
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	*target = w

	// Drain while the command runs so large outputs don't block on the pipe.
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(r)
		close(done)
	}()

	restore := func() string {
		_ = w.Close()
		<-done
		*target = old
		return buf.String()
	}
	t.Cleanup(func() {
		if *target == w {
			restore()
		}
	})
	return restore
}
