//go:build unix

package approval

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestDiffAndPromoteRefuseFIFODestination(t *testing.T) {
	m := loadProject(t, true)
	wf := New(Options{})
	staged := stage(t, m, "output_pending/pipe", "data\n")
	if err := os.MkdirAll(filepath.Join(m.Root, "output"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := syscall.Mkfifo(filepath.Join(m.Root, "output", "pipe"), 0o644); err != nil {
		t.Skipf("mkfifo: %v", err)
	}

	done := make(chan error, 2)
	go func() {
		_, err := wf.Diff(m, staged, "")
		done <- err
	}()
	go func() {
		_, err := wf.Promote(m, staged, "", true)
		done <- err
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if !errors.Is(err, ErrBadRequest) {
				t.Fatalf("expected ErrBadRequest for FIFO destination, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("operation blocked on a FIFO destination")
		}
	}
}
