package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cracknum-backend/internal/config"
	"cracknum-backend/internal/database"
	"cracknum-backend/internal/messaging"
	"cracknum-backend/internal/storage"

	"gorm.io/gorm"
)

type TaskProcessor struct {
	db       *gorm.DB
	storage  storage.Provider
	reciever messaging.Reciever
	job      *Job
	running  *taskLocks

	runtimeDir  string
	jobTimeout  time.Duration
	concurrency int
}

func NewTaskProcessor(db *gorm.DB, storage storage.Provider, reciever messaging.Reciever, job *Job, cfg config.Worker) *TaskProcessor {
	return &TaskProcessor{
		db:          db,
		storage:     storage,
		reciever:    reciever,
		job:         job,
		running:     newTaskLocks(),
		runtimeDir:  cfg.RuntimeDir,
		jobTimeout:  cfg.JobTimeout,
		concurrency: max(cfg.Concurrency, 1),
	}
}

// Start consumes tasks until the receiver is closed.
func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor", "concurrency", proc.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < proc.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range proc.reciever.Tasks() {
				proc.ProcessTask(task)
			}
		}()
	}
	wg.Wait()

	slog.Info("task processor stopped")
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.CrackQueue:
		var payload messaging.CrackTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil || payload.TaskId == "" {
			slog.Error("error unmarshalling crack task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processCrackTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processCrackTask(ctx context.Context, payload messaging.CrackTaskPayload) error {
	taskId := payload.TaskId

	if !proc.running.tryLock(taskId) {
		slog.Warn("task is already running in this worker, skipping duplicate message", "task_id", taskId)
		return nil
	}
	defer proc.running.unlock(taskId)

	task, err := database.GetTask(ctx, proc.db, taskId)
	if err != nil {
		return fmt.Errorf("error loading task %s: %w", taskId, err)
	}
	if database.IsTerminal(task.Status) {
		slog.Warn("task already completed, skipping redelivered message", "task_id", taskId, "status", task.Status)
		return nil
	}

	workDir := filepath.Join(proc.runtimeDir, "tasks", taskId)
	if err := os.MkdirAll(workDir, os.ModePerm); err != nil {
		return fmt.Errorf("error creating work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			slog.Warn("error cleaning up work dir", "task_id", taskId, "error", err)
		}
	}()

	inputFile := filepath.Join(workDir, "input.txt")
	outputFile := filepath.Join(workDir, "result.csv")
	logFile := filepath.Join(workDir, "task.log")

	publisher, err := database.NewStatusPublisher(proc.db, taskId, logFile)
	if err != nil {
		return fmt.Errorf("error creating status publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Warn("error closing task log", "task_id", taskId, "error", err)
		}
		proc.uploadFile(storage.LogBucket, storage.LogKey(taskId), logFile)
	}()

	// A missing upload falls through to the job, which reports that no
	// hashes could be read.
	if err := proc.storage.DownloadObject(ctx, storage.UploadBucket, task.InputKey, inputFile); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		publisher.OnLog("❌ error: could not fetch input: " + err.Error())
		publisher.SetStatus(database.TaskFailed, err.Error())
		return fmt.Errorf("error downloading input for task %s: %w", taskId, err)
	}

	var jobCtx context.Context
	var cancel context.CancelFunc
	if proc.jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, proc.jobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	req := CrackRequest{
		TaskId:     taskId,
		InputFile:  inputFile,
		OutputFile: outputFile,
		Salt:       payload.Salt,
		PublishResult: func(ctx context.Context, path string) error {
			return proc.putFile(ctx, storage.ResultBucket, storage.ResultKey(taskId), path)
		},
	}

	return proc.job.Run(jobCtx, req, publisher)
}

func (proc *TaskProcessor) putFile(ctx context.Context, bucket, key, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", path, err)
	}
	defer file.Close()

	return proc.storage.PutObject(ctx, bucket, key, file)
}

func (proc *TaskProcessor) uploadFile(bucket, key, path string) {
	if err := proc.putFile(context.Background(), bucket, key, path); err != nil {
		slog.Warn("error uploading file", "bucket", bucket, "key", key, "error", err)
	}
}
