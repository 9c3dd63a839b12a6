package infra

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"agents-eval/internal/shared/storage"
	"agents-eval/internal/shared/storage/driver/postgres"
	"agents-eval/internal/shared/storage/driver/sqlite"
	"agents-eval/internal/shared/storage/memory"
	"agents-eval/internal/shared/storage/mongostore"
	"agents-eval/internal/shared/storage/repository"
)

// OpenRepos 按驱动类型打开仓储
//
// driver: "sqlite"（默认）、"postgres"、"mongodb"、"memory"
// SQL 驱动打开后自动迁移表结构。
func OpenRepos(ctx context.Context, driver, url, dbName, projectID string) (*storage.Repos, error) {
	switch strings.ToLower(driver) {
	case "memory":
		log.Printf("[infra] using in-memory storage, runs are lost on exit")
		return memory.NewRepos(projectID), nil
	case "mongodb":
		store, err := mongostore.NewStore(ctx, url, dbName)
		if err != nil {
			return nil, err
		}
		log.Printf("[infra] connected to MongoDB db=%s", dbName)
		return store.Repos(projectID), nil
	case "postgres":
		db, err := postgres.Open(url)
		if err != nil {
			return nil, err
		}
		return migrate(repository.NewStore(db, postgres.NewDialect()), projectID)
	case "sqlite", "":
		if err := ensureSQLiteDir(url); err != nil {
			return nil, err
		}
		db, err := sqlite.Open(url)
		if err != nil {
			return nil, err
		}
		return migrate(repository.NewStore(db, sqlite.NewDialect()), projectID)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func migrate(store *repository.Store, projectID string) (*storage.Repos, error) {
	if err := store.Dialect().AutoMigrate(store.DB()); err != nil {
		store.Close()
		return nil, fmt.Errorf("auto migrate (%s): %w", store.Dialect().DriverType(), err)
	}
	log.Printf("[infra] connected to %s", store.Dialect().DriverType())
	return store.Repos(projectID), nil
}

// ensureSQLiteDir 为 file: 形式的 DSN 创建所在目录
func ensureSQLiteDir(dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sqlite directory: %w", err)
	}
	return nil
}
