package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"convertd/internal/engine"
	"convertd/internal/workspace"
)

// fakeInvoker routes invocations to a function and records every workspace
// it was handed.
type fakeInvoker struct {
	fn func(ctx context.Context, ws workspace.Workspace, inputPath string, timeout time.Duration) (string, error)

	mu   sync.Mutex
	seen []workspace.Workspace
}

func (f *fakeInvoker) Convert(ctx context.Context, ws workspace.Workspace, inputPath string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, ws)
	f.mu.Unlock()
	return f.fn(ctx, ws, inputPath, timeout)
}

// capturingRecorder stores every attempt it is handed.
type capturingRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *capturingRecorder) Record(ctx context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func newManager(t *testing.T) *workspace.Manager {
	t.Helper()
	mgr, err := workspace.NewManager(filepath.Join(t.TempDir(), "work"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

// writePDF is a fake engine behavior producing a valid-looking PDF.
func writePDF(payload []byte) func(context.Context, workspace.Workspace, string, time.Duration) (string, error) {
	return func(_ context.Context, ws workspace.Workspace, _ string, _ time.Duration) (string, error) {
		data := append([]byte("%PDF-1.4\n"), payload...)
		return "", os.WriteFile(filepath.Join(ws.StagingDir, "output.pdf"), data, 0o644)
	}
}

func TestConvertSuccess(t *testing.T) {
	t.Parallel()

	mgr := newManager(t)
	inv := &fakeInvoker{fn: writePDF([]byte("hello"))}
	o := New(mgr, inv, Options{Timeout: time.Minute})

	res, err := o.Convert(context.Background(), Request{Data: []byte("doc"), Filename: "report.docx"})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !bytes.HasPrefix(res.PDF, []byte("%PDF-")) {
		t.Fatalf("result does not start with PDF header: %q", res.PDF)
	}
	if res.Filename != "output.pdf" {
		t.Fatalf("result filename = %q", res.Filename)
	}
	if o.Completed() != 1 {
		t.Fatalf("Completed() = %d, want 1", o.Completed())
	}

	if len(inv.seen) != 1 {
		t.Fatalf("invoker called %d times", len(inv.seen))
	}
	if _, err := os.Stat(inv.seen[0].Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace not reclaimed after success")
	}
}

func TestConvertStagesInputInWorkspace(t *testing.T) {
	t.Parallel()

	mgr := newManager(t)
	var gotInput string
	var gotData []byte
	inv := &fakeInvoker{fn: func(_ context.Context, ws workspace.Workspace, inputPath string, _ time.Duration) (string, error) {
		gotInput = inputPath
		gotData, _ = os.ReadFile(inputPath)
		return "", os.WriteFile(filepath.Join(ws.StagingDir, "out.pdf"), []byte("%PDF-x"), 0o644)
	}}
	o := New(mgr, inv, Options{})

	if _, err := o.Convert(context.Background(), Request{Data: []byte("payload"), Filename: "../../etc/passwd"}); err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if filepath.Base(gotInput) != "passwd" {
		t.Fatalf("input path not sanitized to base name: %q", gotInput)
	}
	if gotInput != inv.seen[0].InputPath("passwd") {
		t.Fatalf("input staged outside workspace: %q", gotInput)
	}
	if string(gotData) != "payload" {
		t.Fatalf("staged data = %q", gotData)
	}
}

func TestConvertClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fn       func(context.Context, workspace.Workspace, string, time.Duration) (string, error)
		wantKind Kind
	}{
		{
			name: "engine timeout",
			fn: func(context.Context, workspace.Workspace, string, time.Duration) (string, error) {
				return "", context.DeadlineExceeded
			},
			wantKind: KindTimeout,
		},
		{
			name: "engine unavailable",
			fn: func(context.Context, workspace.Workspace, string, time.Duration) (string, error) {
				return "", fmt.Errorf("%w: no such file", engine.ErrUnavailable)
			},
			wantKind: KindEngineUnavailable,
		},
		{
			name: "engine non-zero exit",
			fn: func(context.Context, workspace.Workspace, string, time.Duration) (string, error) {
				return "unsupported format", &engine.ExitError{Code: 77, Stderr: "unsupported format"}
			},
			wantKind: KindEngineFailure,
		},
		{
			name: "clean exit but no output",
			fn: func(context.Context, workspace.Workspace, string, time.Duration) (string, error) {
				return "", nil
			},
			wantKind: KindOutputMissing,
		},
		{
			name: "clean exit but empty output",
			fn: func(_ context.Context, ws workspace.Workspace, _ string, _ time.Duration) (string, error) {
				return "", os.WriteFile(filepath.Join(ws.StagingDir, "out.pdf"), nil, 0o644)
			},
			wantKind: KindOutputMissing,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mgr := newManager(t)
			inv := &fakeInvoker{fn: tt.fn}
			o := New(mgr, inv, Options{})

			_, err := o.Convert(context.Background(), Request{Data: []byte("doc"), Filename: "a.docx"})
			if err == nil {
				t.Fatalf("Convert() expected error")
			}
			if got := KindOf(err); got != tt.wantKind {
				t.Fatalf("KindOf() = %q, want %q", got, tt.wantKind)
			}

			// No-leakage invariant: the workspace is gone on every path.
			if _, err := os.Stat(inv.seen[0].Dir); !os.IsNotExist(err) {
				t.Fatalf("workspace not reclaimed after %s", tt.name)
			}
		})
	}
}

func TestConvertAllocationFailure(t *testing.T) {
	t.Parallel()

	// Workspace root is a regular file; allocation must fail classified.
	rootFile := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(rootFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	mgr, err := workspace.NewManager(rootFile)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	rec := &capturingRecorder{}
	o := New(mgr, &fakeInvoker{fn: writePDF(nil)}, Options{Recorder: rec})

	_, err = o.Convert(context.Background(), Request{Data: []byte("doc"), Filename: "a.docx"})
	if KindOf(err) != KindAllocation {
		t.Fatalf("KindOf() = %q, want %q", KindOf(err), KindAllocation)
	}
	if len(rec.attempts) != 1 || rec.attempts[0].Status != StatusFailed {
		t.Fatalf("allocation failure not recorded: %+v", rec.attempts)
	}
}

func TestConvertCancellationPassesThrough(t *testing.T) {
	t.Parallel()

	mgr := newManager(t)
	inv := &fakeInvoker{fn: func(ctx context.Context, _ workspace.Workspace, _ string, _ time.Duration) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	o := New(mgr, inv, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := o.Convert(ctx, Request{Data: []byte("doc"), Filename: "a.docx"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Convert() error = %v, want Canceled", err)
	}
	if KindOf(err) != "" {
		t.Fatalf("cancellation should not be classified, got %q", KindOf(err))
	}

	if _, err := os.Stat(inv.seen[0].Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace not reclaimed after cancellation")
	}
}

func TestConvertExtractorSkipsPDFInput(t *testing.T) {
	t.Parallel()

	mgr := newManager(t)
	inv := &fakeInvoker{fn: func(_ context.Context, ws workspace.Workspace, _ string, _ time.Duration) (string, error) {
		return "", os.WriteFile(filepath.Join(ws.StagingDir, "output.pdf"), []byte("%PDF-converted"), 0o644)
	}}
	o := New(mgr, inv, Options{})

	// The staged input is itself a .pdf and sorts before "output.pdf".
	res, err := o.Convert(context.Background(), Request{Data: []byte("not the answer"), Filename: "input.pdf"})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if string(res.PDF) != "%PDF-converted" {
		t.Fatalf("extractor returned wrong artifact: %q", res.PDF)
	}
}

func TestConvertConcurrentIsolation(t *testing.T) {
	t.Parallel()

	mgr := newManager(t)

	// Each fake run copies its own input into the PDF so cross-contamination
	// would be visible in the responses.
	inv := &fakeInvoker{fn: func(_ context.Context, ws workspace.Workspace, inputPath string, _ time.Duration) (string, error) {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return "", err
		}
		out := append([]byte("%PDF-1.4\n"), data...)
		return "", os.WriteFile(filepath.Join(ws.StagingDir, "out.pdf"), out, 0o644)
	}}
	o := New(mgr, inv, Options{MaxConcurrent: 8})

	const n = 50
	var wg sync.WaitGroup
	errsCh := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf("document-%03d", i)
			res, err := o.Convert(context.Background(), Request{
				Data:     []byte(payload),
				Filename: fmt.Sprintf("doc-%03d.docx", i),
			})
			if err != nil {
				errsCh <- err
				return
			}
			want := "%PDF-1.4\n" + payload
			if string(res.PDF) != want {
				errsCh <- fmt.Errorf("cross-contaminated result for %d: %q", i, res.PDF)
			}
		}(i)
	}
	wg.Wait()
	close(errsCh)
	for err := range errsCh {
		t.Fatalf("concurrent conversion: %v", err)
	}

	// Isolation invariant: all workspaces pairwise disjoint.
	dirs := make(map[string]bool)
	for _, ws := range inv.seen {
		if dirs[ws.Dir] {
			t.Fatalf("workspace dir reused: %q", ws.Dir)
		}
		dirs[ws.Dir] = true
	}
	if len(dirs) != n {
		t.Fatalf("expected %d workspaces, got %d", n, len(dirs))
	}
	if o.Completed() != n {
		t.Fatalf("Completed() = %d, want %d", o.Completed(), n)
	}
}

func TestConvertAdmissionGate(t *testing.T) {
	t.Parallel()

	mgr := newManager(t)

	var inFlight, peak atomic.Int64
	inv := &fakeInvoker{fn: func(_ context.Context, ws workspace.Workspace, _ string, _ time.Duration) (string, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return "", os.WriteFile(filepath.Join(ws.StagingDir, "out.pdf"), []byte("%PDF-x"), 0o644)
	}}
	o := New(mgr, inv, Options{MaxConcurrent: 2})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Convert(context.Background(), Request{Data: []byte("d"), Filename: "a.docx"}); err != nil {
				t.Errorf("Convert() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > 2 {
		t.Fatalf("admission gate exceeded: peak = %d", p)
	}
}

func TestConvertRecordsAttempts(t *testing.T) {
	t.Parallel()

	mgr := newManager(t)
	rec := &capturingRecorder{}
	inv := &fakeInvoker{fn: writePDF([]byte("ok"))}
	o := New(mgr, inv, Options{
		Recorder: rec,
		Digest:   func(data []byte) string { return fmt.Sprintf("digest-%d", len(data)) },
	})

	if _, err := o.Convert(context.Background(), Request{Data: []byte("doc"), Filename: "a.docx"}); err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	inv.fn = func(context.Context, workspace.Workspace, string, time.Duration) (string, error) {
		return "", &engine.ExitError{Code: 1, Stderr: "bad input"}
	}
	if _, err := o.Convert(context.Background(), Request{Data: []byte("junk!"), Filename: "b.docx"}); err == nil {
		t.Fatalf("Convert() expected error")
	}

	if len(rec.attempts) != 2 {
		t.Fatalf("recorded %d attempts, want 2", len(rec.attempts))
	}

	ok := rec.attempts[0]
	if ok.Status != StatusSucceeded || ok.ErrorKind != "" || ok.Filename != "a.docx" {
		t.Fatalf("unexpected success attempt: %+v", ok)
	}
	if ok.InputDigest != "digest-3" || ok.InputBytes != 3 || ok.OutputBytes == 0 {
		t.Fatalf("unexpected success attempt metrics: %+v", ok)
	}

	failed := rec.attempts[1]
	if failed.Status != StatusFailed || failed.ErrorKind != KindEngineFailure {
		t.Fatalf("unexpected failed attempt: %+v", failed)
	}
	if failed.OutputBytes != 0 {
		t.Fatalf("failed attempt reports output bytes: %+v", failed)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"test.docx", "test.docx"},
		{"/tmp/test.docx", "test.docx"},
		{`C:\Windows\test.docx`, "test.docx"},
		{"../../../etc/passwd", "passwd"},
		{"", "document"},
		{"   ", "document"},
		{"..", "document"},
		{"/", "document"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
