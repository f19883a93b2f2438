package helpers

import "gorm.io/gorm"

func WrapTxAndCommit[T any](fn func(*gorm.DB) (T, error), db *gorm.DB, tx *gorm.DB) (T, error) {
	exists := tx != nil

	if !exists {
		tx = db.Begin()
		if tx.Error != nil {
			var zero T
			return zero, tx.Error
		}
	}

	res, err := fn(tx)

	if err != nil && !exists {
		tx.Rollback()
	}
	if err == nil && !exists {
		if cerr := tx.Commit().Error; cerr != nil {
			return res, cerr
		}
	}
	return res, err
}

// ColumnTypes holds the dialect specific column definitions used by migrations.
type ColumnTypes struct {
	Id        string
	Decimal   string
	Timestamp string
}

func ColumnTypesFor(grm *gorm.DB) ColumnTypes {
	if IsPostgres(grm) {
		return ColumnTypes{
			Id:        "bigserial primary key",
			Decimal:   "numeric(38,18)",
			Timestamp: "timestamp with time zone",
		}
	}
	return ColumnTypes{
		Id:        "integer primary key autoincrement",
		Decimal:   "text",
		Timestamp: "datetime",
	}
}

func IsPostgres(grm *gorm.DB) bool {
	return grm.Dialector.Name() == "postgres"
}
