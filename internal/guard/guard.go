// Package guard provides the maintenance-mode capability that makes a
// restore or migration a mutually exclusive critical section. It
// quiesces registered database consumers and writes a lock marker that
// collaborating subsystems (the websocket broadcast layer) check before
// opening new connections.
package guard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
)

// MarkerName is the lock marker file written inside the marker directory.
const MarkerName = ".maintenance.lock"

// Quiescer is anything holding database connections that must release them
// before a destructive operation. Resume is called when the guard ends.
type Quiescer interface {
	Name() string
	Quiesce(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Guard coordinates exclusive access to the storage during destructive
// operations.
type Guard struct {
	markerDir string
	log       logger.Logger

	mu        sync.Mutex
	held      bool
	quiescers []Quiescer
}

// New creates a guard writing its marker into markerDir.
func New(markerDir string, log logger.Logger) *Guard {
	return &Guard{
		markerDir: markerDir,
		log:       log,
	}
}

// Register adds a consumer to quiesce during critical sections. Typically
// called once at startup by the ORM layer and the broadcast layer.
func (g *Guard) Register(q Quiescer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quiescers = append(g.quiescers, q)
}

// MarkerPath returns the lock marker location.
func (g *Guard) MarkerPath() string {
	return filepath.Join(g.markerDir, MarkerName)
}

// Held reports whether a critical section is active. Collaborators in the
// same process use this; other processes stat the marker file.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return true
	}
	_, err := os.Stat(g.MarkerPath())
	return err == nil
}

// Begin writes the lock marker and quiesces all registered consumers.
// The marker is created exclusively, so a marker left by another process
// (a concurrent CLI run, the web deployment mid-restore) blocks Begin
// instead of being overwritten. The returned release function is safe to
// call exactly once and must run on every exit path; it removes the
// marker and resumes consumers. A second Begin while held fails without
// touching anything.
func (g *Guard) Begin(ctx context.Context) (release func(), err error) {
	g.mu.Lock()
	if g.held {
		g.mu.Unlock()
		return nil, errors.OperationInProgress()
	}
	g.held = true
	quiescers := make([]Quiescer, len(g.quiescers))
	copy(quiescers, g.quiescers)
	g.mu.Unlock()

	undo := func() {
		g.mu.Lock()
		g.held = false
		g.mu.Unlock()
	}

	// The marker is the cross-process lock. Take it before tearing any
	// connections down.
	if err := g.writeMarker(); err != nil {
		undo()
		return nil, err
	}

	var quiesced []Quiescer
	for _, q := range quiescers {
		g.log.Debug("Quiescing connection holder", "name", q.Name())
		if err := q.Quiesce(ctx); err != nil {
			g.resume(quiesced)
			g.removeMarker()
			undo()
			return nil, fmt.Errorf("failed to quiesce %s: %w", q.Name(), err)
		}
		quiesced = append(quiesced, q)
	}

	g.log.Info("Maintenance mode active", "marker", g.MarkerPath())

	var once sync.Once
	release = func() {
		once.Do(func() {
			g.removeMarker()
			g.resume(quiesced)
			undo()
			g.log.Info("Maintenance mode released")
		})
	}
	return release, nil
}

func (g *Guard) resume(quiesced []Quiescer) {
	// Resume in reverse order of quiescing.
	var result *multierror.Error
	for i := len(quiesced) - 1; i >= 0; i-- {
		q := quiesced[i]
		if err := q.Resume(context.Background()); err != nil {
			result = multierror.Append(result, fmt.Errorf("resume %s: %w", q.Name(), err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		g.log.Warn("Some connection holders failed to resume", "error", err)
	}
}

func (g *Guard) writeMarker() error {
	if err := os.MkdirAll(g.markerDir, 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	f, err := os.OpenFile(g.MarkerPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errors.OperationInProgress().WithDetails(
				fmt.Sprintf("maintenance marker %s already exists", g.MarkerPath()))
		}
		return fmt.Errorf("failed to write maintenance marker: %w", err)
	}
	_, werr := fmt.Fprintf(f, "pid=%d\nstarted=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

func (g *Guard) removeMarker() {
	if err := os.Remove(g.MarkerPath()); err != nil && !os.IsNotExist(err) {
		g.log.Warn("Failed to remove maintenance marker", "error", err)
	}
}
