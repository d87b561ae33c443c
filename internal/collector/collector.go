// Package collector implements the Result Collector (C9): on every terminal
// transition it drains whatever output remains on the task's stream,
// archives the Supervisor's isolated working directory into a single blob
// via the Object storage collaborator, discards any outstanding Mediator
// state for the task, tears down the working directory, and schedules the
// per-task stream's deletion once the retention window elapses, per §4.9.
package collector

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/waldiez/runner/internal/bus"
	"github.com/waldiez/runner/internal/logger"
	"github.com/waldiez/runner/internal/objectstore"
	"github.com/waldiez/runner/internal/task"
)

// drainWindow bounds how long Collect waits for bus.XRange to return before
// giving up on draining the remaining backlog; draining is best-effort.
const drainWindow = 5 * time.Second

// Discarder releases any Mediator state outstanding for a task. Implemented
// by *mediator.Mediator.
type Discarder interface {
	Discard(taskID string)
}

// Collector is the Result Collector collaborator.
type Collector struct {
	store     objectstore.Store
	bus       bus.Bus
	mediator  Discarder
	retention time.Duration
}

// New constructs a Collector. retention is how long a terminal task's
// streams survive before Delete is called against the Stream Bus, per §4.9's
// configurable retention window.
func New(store objectstore.Store, b bus.Bus, mediator Discarder, retention time.Duration) *Collector {
	return &Collector{store: store, bus: b, mediator: mediator, retention: retention}
}

// ArchiveKey returns the Object storage path a task's archive is written to.
func ArchiveKey(taskID string) string {
	return filepath.Join("archives", taskID+".tar.gz")
}

// Collect runs the post-terminal cleanup pipeline for record, whose Status is
// already terminal. workDir is the Supervisor's isolated working directory,
// or empty if the task never reached a running child. Collect is called
// synchronously from the Scheduler's worker after the terminal transition has
// already been journaled and observers notified; it does not mutate record.
func (c *Collector) Collect(ctx context.Context, record *task.Record, workDir string) {
	c.drain(ctx, record.ID)

	if workDir != "" {
		if err := c.archive(ctx, record.ID, workDir); err != nil {
			logger.Warn("collector: archive failed", "task_id", record.ID, "error", err)
		}
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("collector: workdir teardown failed", "task_id", record.ID, "error", err)
		}
	}

	if c.mediator != nil {
		c.mediator.Discard(record.ID)
	}

	if c.bus != nil && c.retention > 0 {
		taskID := record.ID
		time.AfterFunc(c.retention, func() {
			if err := c.bus.Delete(context.Background(), bus.OutputStream(taskID)); err != nil {
				logger.Warn("collector: stream retention delete failed", "task_id", taskID, "error", err)
			}
		})
	}
}

// drain reads whatever remains on the task's output stream, bounded by
// drainWindow, and returns how many envelopes it saw. Collect discards that
// count; no results summary is attached to the task record. The envelopes
// themselves stay on the stream for replay; this is a read, not a consume.
func (c *Collector) drain(ctx context.Context, taskID string) (int, error) {
	if c.bus == nil {
		return 0, nil
	}
	dctx, cancel := context.WithTimeout(ctx, drainWindow)
	defer cancel()
	envs, err := c.bus.XRange(dctx, bus.OutputStream(taskID), "-", "+")
	if err != nil {
		return 0, err
	}
	return len(envs), nil
}

// archive tars and gzips workDir's contents into a single blob and writes it
// to the Object store under ArchiveKey(taskID).
func (c *Collector) archive(ctx context.Context, taskID, workDir string) error {
	if c.store == nil {
		return nil
	}
	pr, pw := io.Pipe()
	go func() {
		gw := gzip.NewWriter(pw)
		tw := tar.NewWriter(gw)
		err := filepath.Walk(workDir, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(workDir, path)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = rel
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		})
		if err == nil {
			err = tw.Close()
		}
		if err == nil {
			err = gw.Close()
		}
		pw.CloseWithError(err)
	}()

	return c.store.Put(ctx, ArchiveKey(taskID), pr)
}
