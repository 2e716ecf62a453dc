package database

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

// Task statuses. An empty status means the input was uploaded but no crack
// was ever requested.
const (
	TaskQueued   string = "queued"
	TaskStarted  string = "started"
	TaskFinished string = "finished"
	TaskFailed   string = "failed"
)

func IsTerminal(status string) bool {
	return status == TaskFinished || status == TaskFailed
}

// MaxTaskLogLines bounds the retained log of a single task. Older lines are
// dropped, sequence numbers keep counting.
const MaxTaskLogLines = 1000

type Task struct {
	Id string `gorm:"size:64;primaryKey"`

	InputKey string `gorm:"not null"`
	Salt     string

	Status   string  `gorm:"size:20;not null;default:''"`
	Progress float64 `gorm:"default:0"`
	Cracked  int     `gorm:"default:0"`
	Total    int     `gorm:"default:0"`
	Message  sql.NullString

	LogCount int `gorm:"default:0"`

	// Argv of the last launched command, as a JSON array.
	Command datatypes.JSON

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Logs []TaskLog `gorm:"foreignKey:TaskId;constraint:OnDelete:CASCADE"`
}

type TaskLog struct {
	TaskId    string `gorm:"size:64;primaryKey"`
	Seq       int    `gorm:"primaryKey;autoIncrement:false"`
	Line      string
	Timestamp time.Time
}

type RevokedToken struct {
	Jti       string    `gorm:"size:64;primaryKey"`
	ExpiresAt time.Time `gorm:"index"`
}
