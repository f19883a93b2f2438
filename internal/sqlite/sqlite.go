package sqlite

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var inMemoryPragmas = []string{
	`PRAGMA foreign_keys = ON;`,
	`PRAGMA busy_timeout = 5000;`,
}

// InMemoryDsn names a shared-cache in-memory database. Connections using the same name see the same data.
func InMemoryDsn(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

// OpenInMemory opens the named in-memory database behind a single connection, which serializes
// writers the way row locks would on postgres.
func OpenInMemory(name string) (*gorm.DB, error) {
	grm, err := gorm.Open(sqlite.Open(InMemoryDsn(name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	rawDb, err := grm.DB()
	if err != nil {
		return nil, err
	}
	rawDb.SetMaxOpenConns(1)

	for _, pragma := range inMemoryPragmas {
		if res := grm.Exec(pragma); res.Error != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, res.Error)
		}
	}
	return grm, nil
}
