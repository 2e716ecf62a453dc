package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/gorm"
)

// StatusPublisher persists the progress, status and log of a single task. The
// log is additionally appended to a plain text file when a path is given.
type StatusPublisher struct {
	db       *gorm.DB
	taskId   string
	keepLogs int

	mu      sync.Mutex
	logFile *os.File
}

func NewStatusPublisher(db *gorm.DB, taskId string, logPath string) (*StatusPublisher, error) {
	p := &StatusPublisher{db: db, taskId: taskId, keepLogs: MaxTaskLogLines}

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), os.ModePerm); err != nil {
			return nil, fmt.Errorf("error creating log directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("error opening task log file: %w", err)
		}
		p.logFile = f
	}

	return p, nil
}

func (p *StatusPublisher) OnLog(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.logFile != nil {
		if _, err := fmt.Fprintln(p.logFile, line); err != nil {
			slog.Error("error writing task log file", "task_id", p.taskId, "error", err)
		}
	}

	if err := AppendTaskLog(context.Background(), p.db, p.taskId, line, p.keepLogs); err != nil {
		slog.Error("error appending task log", "task_id", p.taskId, "error", err)
	}
}

func (p *StatusPublisher) OnProgress(percent float64, cracked, total int) {
	if err := UpdateTaskProgress(context.Background(), p.db, p.taskId, percent, cracked, total); err != nil {
		slog.Error("error publishing progress", "task_id", p.taskId, "error", err)
	}
}

func (p *StatusPublisher) SetStatus(status string, message string) {
	if err := UpdateTaskStatus(context.Background(), p.db, p.taskId, status, message); err != nil {
		slog.Error("error publishing status", "task_id", p.taskId, "status", status, "error", err)
	}
}

func (p *StatusPublisher) OnCommand(argv []string) {
	if err := SaveTaskCommand(context.Background(), p.db, p.taskId, argv); err != nil {
		slog.Error("error publishing command", "task_id", p.taskId, "error", err)
	}
}

func (p *StatusPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.logFile == nil {
		return nil
	}
	err := p.logFile.Close()
	p.logFile = nil
	return err
}
