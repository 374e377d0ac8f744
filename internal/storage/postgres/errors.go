package postgres

import (
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"mailroute/backend/internal/storage"
)

// PostgreSQL / MySQL 错误码
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	mysqlDuplicateEntry = 1062
	mysqlLockDeadlock   = 1213
)

// translateError 将唯一约束冲突映射为存储层错误
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var constraint string
	var pgErr *pgconn.PgError
	var myErr *mysqldriver.MySQLError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation:
		constraint = pgErr.ConstraintName
	case errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry:
		constraint = myErr.Message
	default:
		return err
	}

	switch {
	case strings.Contains(constraint, "match_key"):
		return storage.ErrDuplicateMatchKey
	case strings.Contains(constraint, "token"):
		return storage.ErrDuplicateToken
	}
	return err
}

// isSerializationFailure 判断事务是否因并发冲突失败、可以重试
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockDeadlock
	}
	return false
}
