package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
)

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

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Task{}, &TaskLog{}); err != nil {
		return fmt.Errorf("Migration0 failed: %w", err)
	}
	return nil
}
