package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cracknum-backend/internal/config"
	"cracknum-backend/internal/database"
)

var ErrNoHashes = errors.New("could not read any hashes from input")

type LogSink interface {
	OnLog(line string)
}

type ProgressSink interface {
	OnProgress(percent float64, cracked, total int)
}

type StatusSink interface {
	SetStatus(status string, message string)
}

// Publisher receives everything a running job reports. Implementations must
// be safe to call from the output reader goroutine.
type Publisher interface {
	LogSink
	ProgressSink
	StatusSink
}

// CommandRecorder is optionally implemented by publishers that want the
// exact argv of the launched attack.
type CommandRecorder interface {
	OnCommand(argv []string)
}

type CrackRequest struct {
	TaskId     string
	InputFile  string
	OutputFile string
	Salt       string

	// PublishResult, if set, is called with the finished result file before
	// the task is reported as finished.
	PublishResult func(ctx context.Context, outputFile string) error
}

type Job struct {
	launcher   *Launcher
	reconciler *Reconciler
	timings    Timings
}

func NewJob(cfg config.Hashcat, timings Timings) (*Job, error) {
	launcher, err := NewLauncher(cfg)
	if err != nil {
		return nil, err
	}
	return &Job{
		launcher:   launcher,
		reconciler: NewReconciler(launcher, timings.ShowDelay),
		timings:    timings,
	}, nil
}

// Run executes one crack end to end. Any failure is logged to the publisher,
// reported as a failed status and returned.
func (j *Job) Run(ctx context.Context, req CrackRequest, pub Publisher) error {
	slog.Info("starting crack job", "task_id", req.TaskId)
	pub.SetStatus(database.TaskStarted, "")

	if err := j.run(ctx, req, pub); err != nil {
		slog.Error("crack job failed", "task_id", req.TaskId, "error", err)
		pub.OnLog("❌ error: " + err.Error())
		pub.SetStatus(database.TaskFailed, err.Error())
		return err
	}

	slog.Info("crack job finished", "task_id", req.TaskId)
	pub.SetStatus(database.TaskFinished, "")
	return nil
}

func (j *Job) run(ctx context.Context, req CrackRequest, pub Publisher) error {
	if !j.launcher.Enabled() {
		pub.OnLog("⛔ execution disabled (ALLOW_EXECUTION=false), nothing was run")
		return &ExecutionDisabledError{}
	}

	hashes, err := ReadHashFile(req.InputFile)
	if err != nil {
		return err
	}
	if len(hashes) == 0 {
		pub.OnLog("⚠️ no hashes found in input (expected CSV with a hash column or one hash per line)")
		return ErrNoHashes
	}

	total := len(hashes)
	pub.OnProgress(0, 0, total)
	pub.OnLog(fmt.Sprintf("✔ hashes found: %d", total))
	pub.OnLog("✔ salt: " + req.Salt)

	scratch, err := os.MkdirTemp("", "crack-"+req.TaskId+"-")
	if err != nil {
		return fmt.Errorf("error creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	hashFile := filepath.Join(scratch, "hashes.txt")
	potFile := filepath.Join(scratch, "cracknum.potfile")

	pub.OnLog("▶ preparing hash:salt list")
	if err := writeSaltedHashes(hashFile, hashes, req.Salt); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputFile), os.ModePerm); err != nil {
		return fmt.Errorf("error creating output dir: %w", err)
	}
	if err := os.WriteFile(req.OutputFile, nil, 0644); err != nil {
		return fmt.Errorf("error creating result file: %w", err)
	}

	args := CrackArgs(hashFile, req.OutputFile, potFile)
	argv := j.launcher.Argv(args...)
	pub.OnLog("▶ launching: " + strings.Join(argv, " "))
	if recorder, ok := pub.(CommandRecorder); ok {
		recorder.OnCommand(argv)
	}

	if err := j.attack(ctx, args, total, pub); err != nil {
		return err
	}

	pub.OnLog("▶ collecting results (--show)")
	rec, err := j.reconciler.Reconcile(ctx, hashFile, potFile, req.OutputFile, total)
	if err != nil {
		return err
	}

	pub.OnLog(fmt.Sprintf("▶ cracked: %d of %d, remaining: %d", rec.Cracked, rec.Total, rec.Remaining()))
	pub.OnProgress(100, rec.Cracked, rec.Total)

	if req.PublishResult != nil {
		if err := req.PublishResult(ctx, req.OutputFile); err != nil {
			return fmt.Errorf("error publishing result: %w", err)
		}
	}

	if rec.Cracked > 0 {
		pub.OnLog("✅ done, result: " + filepath.Base(req.OutputFile))
	} else {
		pub.OnLog("⚠️ nothing cracked, empty result written: " + filepath.Base(req.OutputFile))
	}

	return nil
}

// attack runs the mask attack under the completion policy. The exit code is
// not an error, the tool exits non-zero when it is stopped or exhausts the
// mask without cracking everything.
func (j *Job) attack(ctx context.Context, args []string, total int, pub Publisher) error {
	proc, err := j.launcher.Command(ctx, args)
	if err != nil {
		return err
	}

	run := newSupervisedRun(proc, j.timings, pub.OnLog, func(sample ProgressSample) {
		pub.OnProgress(sample.Percent, 0, total)
	})

	if err := proc.Start(run.handleLine); err != nil {
		return err
	}
	run.wait()

	if err := proc.ExitErr(); err != nil {
		slog.Info("attack process exited", "status", err)
	}

	return ctx.Err()
}

func writeSaltedHashes(path string, hashes []string, salt string) error {
	var b strings.Builder
	for _, h := range hashes {
		b.WriteString(h)
		b.WriteByte(':')
		b.WriteString(salt)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("error writing hash list: %w", err)
	}
	return nil
}
