package guard

import (
	"context"
	"fmt"
	"os"
	"testing"

	pipelineerrors "github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
)

type fakeQuiescer struct {
	name       string
	quiesceErr error
	quiesced   int
	resumed    int
}

func (f *fakeQuiescer) Name() string { return f.name }
func (f *fakeQuiescer) Quiesce(context.Context) error {
	f.quiesced++
	return f.quiesceErr
}
func (f *fakeQuiescer) Resume(context.Context) error {
	f.resumed++
	return nil
}

func TestBeginWritesAndRemovesMarker(t *testing.T) {
	g := New(t.TempDir(), logger.NewSilent())
	ws := &fakeQuiescer{name: "websocket"}
	g.Register(ws)

	release, err := g.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if _, err := os.Stat(g.MarkerPath()); err != nil {
		t.Errorf("marker not written: %v", err)
	}
	if !g.Held() {
		t.Error("Held() = false during critical section")
	}
	if ws.quiesced != 1 {
		t.Errorf("quiesced %d times, want 1", ws.quiesced)
	}

	release()

	if _, err := os.Stat(g.MarkerPath()); !os.IsNotExist(err) {
		t.Error("marker not removed after release")
	}
	if g.Held() {
		t.Error("Held() = true after release")
	}
	if ws.resumed != 1 {
		t.Errorf("resumed %d times, want 1", ws.resumed)
	}

	// Releasing twice must be harmless.
	release()
	if ws.resumed != 1 {
		t.Errorf("double release resumed again: %d", ws.resumed)
	}
}

func TestSecondBeginRejected(t *testing.T) {
	g := New(t.TempDir(), logger.NewSilent())

	release, err := g.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer release()

	if _, err := g.Begin(context.Background()); err == nil {
		t.Fatal("second Begin should fail while held")
	} else if pipelineerrors.GetCode(err) != pipelineerrors.ErrCodeBusy {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBeginAfterReleaseSucceeds(t *testing.T) {
	g := New(t.TempDir(), logger.NewSilent())

	release, err := g.Begin(context.Background())
	if err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	release()

	release2, err := g.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin after release: %v", err)
	}
	release2()
}

func TestQuiesceFailureRollsBack(t *testing.T) {
	g := New(t.TempDir(), logger.NewSilent())
	first := &fakeQuiescer{name: "orm"}
	second := &fakeQuiescer{name: "websocket", quiesceErr: fmt.Errorf("refusing")}
	g.Register(first)
	g.Register(second)

	if _, err := g.Begin(context.Background()); err == nil {
		t.Fatal("expected Begin to fail")
	}

	if first.resumed != 1 {
		t.Errorf("first quiescer not resumed after rollback: %d", first.resumed)
	}
	if g.Held() {
		t.Error("guard left held after failed Begin")
	}
	if _, err := os.Stat(g.MarkerPath()); !os.IsNotExist(err) {
		t.Error("marker left behind after failed Begin")
	}
}

// A marker left by another process must block Begin, not be overwritten.
func TestBeginRefusesForeignMarker(t *testing.T) {
	dir := t.TempDir()
	g := New(dir, logger.NewSilent())
	ws := &fakeQuiescer{name: "websocket"}
	g.Register(ws)

	foreign := []byte("pid=999\nstarted=elsewhere\n")
	if err := os.WriteFile(g.MarkerPath(), foreign, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := g.Begin(context.Background())
	if pipelineerrors.GetCode(err) != pipelineerrors.ErrCodeBusy {
		t.Fatalf("Begin with a foreign marker should be busy, got %v", err)
	}
	if ws.quiesced != 0 {
		t.Error("consumers must not be quiesced when the marker is foreign")
	}

	got, readErr := os.ReadFile(g.MarkerPath())
	if readErr != nil {
		t.Fatalf("reading marker back: %v", readErr)
	}
	if string(got) != string(foreign) {
		t.Errorf("foreign marker was overwritten: %q", got)
	}
}

// A marker written by another process counts as held.
func TestHeldObservesForeignMarker(t *testing.T) {
	dir := t.TempDir()
	g := New(dir, logger.NewSilent())

	if g.Held() {
		t.Fatal("fresh guard should not be held")
	}
	if err := os.WriteFile(g.MarkerPath(), []byte("pid=999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !g.Held() {
		t.Error("Held() must observe a marker file written by another process")
	}
}
