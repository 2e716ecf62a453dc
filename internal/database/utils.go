package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrTaskNotFound = errors.New("task not found")

func CreateTask(ctx context.Context, db *gorm.DB, taskId, inputKey string) error {
	task := Task{
		Id:           taskId,
		InputKey:     inputKey,
		CreationTime: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&task).Error; err != nil {
		return fmt.Errorf("error creating task: %w", err)
	}
	return nil
}

func GetTask(ctx context.Context, db *gorm.DB, taskId string) (Task, error) {
	var task Task
	if err := db.WithContext(ctx).First(&task, "id = ?", taskId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("error loading task: %w", err)
	}
	return task, nil
}

// updateActiveTask applies updates unless the task already reached a terminal
// status, which is final.
func updateActiveTask(ctx context.Context, txn *gorm.DB, taskId string, updates map[string]any) (bool, error) {
	result := txn.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND status NOT IN ?", taskId, []string{TaskFinished, TaskFailed}).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// QueueTask moves a task that was never queued into the queued state. It
// returns false if the task already has a status.
func QueueTask(ctx context.Context, db *gorm.DB, taskId, salt string) (bool, error) {
	result := db.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND status = ?", taskId, "").
		Updates(map[string]any{
			"status":   TaskQueued,
			"salt":     salt,
			"progress": 0,
			"cracked":  0,
			"total":    0,
		})
	if result.Error != nil {
		return false, fmt.Errorf("error queueing task: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func ListTasksByStatus(ctx context.Context, db *gorm.DB, status string) ([]Task, error) {
	var tasks []Task
	if err := db.WithContext(ctx).Where("status = ?", status).Order("creation_time").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("error listing %s tasks: %w", status, err)
	}
	return tasks, nil
}

// FailInterruptedTasks marks every started task as failed. Only safe to call
// when no worker can be running, i.e. at startup of the single-process binary.
func FailInterruptedTasks(ctx context.Context, db *gorm.DB, message string) (int64, error) {
	result := db.WithContext(ctx).Model(&Task{}).
		Where("status = ?", TaskStarted).
		Updates(map[string]any{
			"status":          TaskFailed,
			"message":         sql.NullString{String: message, Valid: true},
			"completion_time": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("error failing interrupted tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func UpdateTaskStatus(ctx context.Context, txn *gorm.DB, taskId string, status string, message string) error {
	updates := map[string]any{"status": status}
	switch {
	case status == TaskStarted:
		updates["start_time"] = time.Now().UTC()
		updates["progress"] = 0
		updates["cracked"] = 0
		updates["total"] = 0
		updates["message"] = sql.NullString{}
	case IsTerminal(status):
		updates["completion_time"] = time.Now().UTC()
	}
	if message != "" {
		updates["message"] = sql.NullString{String: message, Valid: true}
	}

	ok, err := updateActiveTask(ctx, txn, taskId, updates)
	if err != nil {
		slog.Error("error updating task status", "task_id", taskId, "status", status, "error", err)
		return err
	}
	if !ok {
		slog.Warn("task status not updated, task is missing or already terminal", "task_id", taskId, "status", status)
	}
	return nil
}

func UpdateTaskProgress(ctx context.Context, txn *gorm.DB, taskId string, percent float64, cracked, total int) error {
	updates := map[string]any{"progress": percent, "cracked": cracked, "total": total}
	if _, err := updateActiveTask(ctx, txn, taskId, updates); err != nil {
		slog.Error("error updating task progress", "task_id", taskId, "error", err)
		return err
	}
	return nil
}

func SaveTaskCommand(ctx context.Context, txn *gorm.DB, taskId string, argv []string) error {
	data, err := json.Marshal(argv)
	if err != nil {
		return fmt.Errorf("error encoding command: %w", err)
	}
	if _, err := updateActiveTask(ctx, txn, taskId, map[string]any{"command": datatypes.JSON(data)}); err != nil {
		return fmt.Errorf("error saving task command: %w", err)
	}
	return nil
}

// AppendTaskLog appends a line to the task log and drops lines that fall out
// of the last keep lines. Sequence numbers are never reused, so cursors stay
// valid across trimming.
func AppendTaskLog(ctx context.Context, db *gorm.DB, taskId string, line string, keep int) error {
	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var task Task
		if err := txn.Select("id", "log_count").First(&task, "id = ?", taskId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return fmt.Errorf("error loading task log count: %w", err)
		}

		seq := task.LogCount
		if err := txn.Create(&TaskLog{TaskId: taskId, Seq: seq, Line: line, Timestamp: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("error saving task log: %w", err)
		}

		if err := txn.Model(&Task{}).Where("id = ?", taskId).Update("log_count", seq+1).Error; err != nil {
			return fmt.Errorf("error updating task log count: %w", err)
		}

		if keep > 0 && seq+1 > keep {
			if err := txn.Where("task_id = ? AND seq < ?", taskId, seq+1-keep).Delete(&TaskLog{}).Error; err != nil {
				return fmt.Errorf("error trimming task log: %w", err)
			}
		}
		return nil
	})
}

// ReadTaskLogs returns the retained lines at or after cursor and the cursor
// to resume from, which is the number of lines ever written. Cursors outside
// [0, total] are clamped.
func ReadTaskLogs(ctx context.Context, db *gorm.DB, taskId string, cursor int) ([]string, int, error) {
	task, err := GetTask(ctx, db, taskId)
	if err != nil {
		return nil, 0, err
	}

	total := task.LogCount
	cursor = min(max(cursor, 0), total)

	var logs []TaskLog
	if err := db.WithContext(ctx).
		Where("task_id = ? AND seq >= ?", taskId, cursor).
		Order("seq").
		Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("error reading task logs: %w", err)
	}

	lines := make([]string, 0, len(logs))
	for _, l := range logs {
		lines = append(lines, l.Line)
	}
	return lines, total, nil
}

// RevokeToken records a token id so it is rejected until it would have
// expired anyway.
func RevokeToken(ctx context.Context, db *gorm.DB, jti string, expiresAt time.Time) error {
	token := RevokedToken{Jti: jti, ExpiresAt: expiresAt.UTC()}
	if err := db.WithContext(ctx).Where(RevokedToken{Jti: jti}).FirstOrCreate(&token).Error; err != nil {
		return fmt.Errorf("error revoking token: %w", err)
	}
	return nil
}

func IsTokenRevoked(ctx context.Context, db *gorm.DB, jti string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&RevokedToken{}).Where("jti = ?", jti).Count(&count).Error; err != nil {
		return false, fmt.Errorf("error checking revoked token: %w", err)
	}
	return count > 0, nil
}

func PurgeExpiredTokens(ctx context.Context, db *gorm.DB, now time.Time) error {
	if err := db.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&RevokedToken{}).Error; err != nil {
		return fmt.Errorf("error purging expired tokens: %w", err)
	}
	return nil
}
