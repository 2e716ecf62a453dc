package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"cracknum-backend/internal/database"
	"cracknum-backend/internal/messaging"
	"cracknum-backend/internal/storage"
	"cracknum-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxUploadMemory = 32 << 20

type BackendService struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher
	auth      *Authenticator
}

func NewBackendService(db *gorm.DB, storage storage.Provider, pub messaging.Publisher, auth *Authenticator) *BackendService {
	return &BackendService{db: db, storage: storage, publisher: pub, auth: auth}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) {
		return api.HealthResponse{Status: "ok"}, nil
	}))
	r.Post("/token", s.auth.IssueToken)
	r.Post("/logout", s.auth.Logout)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/upload", RestHandler(s.Upload))
		r.Post("/crack/{task_id}", RestHandler(s.Crack))
		r.Get("/status/{task_id}", RestHandler(s.Status))
		r.Get("/logs/{task_id}", RestHandler(s.Logs))
		r.Get("/download/{task_id}", s.Download)
	})
}

func newTaskId() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *BackendService) Upload(r *http.Request) (any, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		slog.Error("error parsing multipart form", "error", err)
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "missing 'file' in upload form")
	}
	defer file.Close()

	ctx := r.Context()
	taskId := newTaskId()

	if err := s.storage.PutObject(ctx, storage.UploadBucket, storage.InputKey(taskId), file); err != nil {
		slog.Error("error storing upload", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store uploaded file")
	}

	if err := database.CreateTask(ctx, s.db, taskId, storage.InputKey(taskId)); err != nil {
		slog.Error("error creating task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create task entry")
	}

	slog.Info("stored upload", "task_id", taskId, "filename", header.Filename, "size", header.Size)
	return api.UploadResponse{TaskId: taskId}, nil
}

func (s *BackendService) Crack(r *http.Request) (any, error) {
	taskId, err := URLParamTaskId(r, "task_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.CrackRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Salt == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "salt must not be empty")
	}

	ctx := r.Context()

	task, err := database.GetTask(ctx, s.db, taskId)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "task input not found; upload first")
		}
		slog.Error("error loading task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving task record")
	}

	exists, err := s.storage.ObjectExists(ctx, storage.UploadBucket, task.InputKey)
	if err != nil {
		slog.Error("error checking task input", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error checking task input")
	}
	if !exists {
		return nil, CodedErrorf(http.StatusNotFound, "task input not found; upload first")
	}

	queued, err := database.QueueTask(ctx, s.db, taskId, req.Salt)
	if err != nil {
		slog.Error("error queueing task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue task")
	}
	if !queued {
		return nil, CodedErrorf(http.StatusConflict, "task %s was already submitted", taskId)
	}

	if err := s.publisher.PublishCrackTask(ctx, messaging.CrackTaskPayload{TaskId: taskId, Salt: req.Salt}); err != nil {
		slog.Error("error publishing crack task", "task_id", taskId, "error", err)
		if err := database.UpdateTaskStatus(context.WithoutCancel(ctx), s.db, taskId, database.TaskFailed, "failed to queue crack task"); err != nil {
			slog.Error("error marking task failed", "task_id", taskId, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue crack task")
	}

	slog.Info("queued crack task", "task_id", taskId)
	return api.CrackResponse{TaskId: taskId}, nil
}

func (s *BackendService) Status(r *http.Request) (any, error) {
	taskId, err := URLParamTaskId(r, "task_id")
	if err != nil {
		return nil, err
	}

	task, err := database.GetTask(r.Context(), s.db, taskId)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "task not found")
		}
		slog.Error("error loading task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving task record")
	}

	// An upload without a crack request has no status yet.
	if task.Status == "" {
		return nil, CodedErrorf(http.StatusNotFound, "task not found")
	}

	return convertTask(task), nil
}

func convertTask(task database.Task) api.TaskStatus {
	status := api.TaskStatus{
		TaskId:   task.Id,
		Status:   task.Status,
		Progress: task.Progress,
		Cracked:  task.Cracked,
		Total:    task.Total,
	}
	if task.Message.Valid {
		status.Message = &task.Message.String
	}
	return status
}

func (s *BackendService) Logs(r *http.Request) (any, error) {
	taskId, err := URLParamTaskId(r, "task_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.LogsQuery](r)
	if err != nil {
		return nil, err
	}

	lines, cursor, err := database.ReadTaskLogs(r.Context(), s.db, taskId, params.Cursor)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "task not found")
		}
		slog.Error("error reading task logs", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error reading task logs")
	}

	return api.LogChunk{Lines: lines, Cursor: cursor}, nil
}

func (s *BackendService) Download(w http.ResponseWriter, r *http.Request) {
	taskId, err := URLParamTaskId(r, "task_id")
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()

	stream, err := s.storage.GetObjectStream(ctx, storage.ResultBucket, storage.ResultKey(taskId))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, CodedErrorf(http.StatusNotFound, "result not ready"))
			return
		}
		writeError(w, CodedError(http.StatusInternalServerError, fmt.Errorf("error opening result: %w", err)))
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, taskId))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, stream); err != nil {
		slog.Error("error streaming result", "task_id", taskId, "error", err)
	}
}
