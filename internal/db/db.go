package db

import (
	"fmt"

	"taskforge/internal/auth"
	"taskforge/internal/task"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&task.Task{},
		&auth.User{},
	); err != nil {
		return err
	}

	// Eligibility scans for the poll worker and the enqueue bridge.
	stmts := []string{
		`create index if not exists idx_tasks_eligible on tasks(status, next_run_at);`,
		`create index if not exists idx_tasks_due on tasks(status, scheduled_for);`,
		`create index if not exists idx_tasks_worker on tasks(status, worker_id);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
