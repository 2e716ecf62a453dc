package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

type Reconciliation struct {
	ShowCount int
	FileCount int
	Cracked   int
	Total     int
}

func (r Reconciliation) Remaining() int {
	return r.Total - r.Cracked
}

// reconcileCounts takes the larger of the two independent counts, the potfile
// can know about hashes the result file missed and vice versa.
func reconcileCounts(showCount, fileCount, total int) Reconciliation {
	cracked := max(showCount, fileCount)
	if cracked > total {
		cracked = total
	}
	return Reconciliation{ShowCount: showCount, FileCount: fileCount, Cracked: cracked, Total: total}
}

func countNonEmptyLines(data []byte) int {
	n := 0
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n
}

type Reconciler struct {
	launcher *Launcher
	delay    time.Duration
}

func NewReconciler(launcher *Launcher, delay time.Duration) *Reconciler {
	return &Reconciler{launcher: launcher, delay: delay}
}

func (r *Reconciler) Reconcile(ctx context.Context, hashFile, potFile, outputFile string, total int) (Reconciliation, error) {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return Reconciliation{}, ctx.Err()
	}

	var showCount, fileCount int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := r.launcher.Output(gctx, ShowArgs(hashFile, potFile))
		if err != nil {
			return fmt.Errorf("error running show pass: %w", err)
		}
		showCount = countNonEmptyLines(out)
		return nil
	})
	g.Go(func() error {
		data, err := os.ReadFile(outputFile)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("error reading result file: %w", err)
		}
		fileCount = countNonEmptyLines(data)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Reconciliation{}, err
	}

	rec := reconcileCounts(showCount, fileCount, total)
	slog.Info("reconciled crack results", "show_count", showCount, "file_count", fileCount, "cracked", rec.Cracked, "total", total)
	return rec, nil
}
