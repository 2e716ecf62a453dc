package migration_1

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Task struct {
	Command datatypes.JSON
}

type RevokedToken struct {
	Jti       string    `gorm:"size:64;primaryKey"`
	ExpiresAt time.Time `gorm:"index"`
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&Task{}, "command"); err != nil {
		return fmt.Errorf("error adding Command column: %w", err)
	}

	if err := db.AutoMigrate(&RevokedToken{}); err != nil {
		return fmt.Errorf("error creating revoked_tokens table: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&RevokedToken{}); err != nil {
		return fmt.Errorf("error dropping revoked_tokens table: %w", err)
	}

	if err := db.Migrator().DropColumn(&Task{}, "command"); err != nil {
		return fmt.Errorf("error dropping Command column: %w", err)
	}

	return nil
}
