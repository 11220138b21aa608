package dbtest

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"gorm.io/gorm"
)

// ErrAborted is what conn answers after AbortOnError has seen a statement
// fail inside a transaction. Postgres reports it as SQLSTATE 25P02.
var ErrAborted = errors.New("current transaction is aborted, commands ignored until end of transaction block")

// AbortOnError makes conn treat a failed statement the way Postgres does: the
// rest of that transaction fails with ErrAborted until it rolls back to a
// savepoint. SQLite alone would carry on after a constraint error.
func AbortOnError(t *testing.T, conn *gorm.DB) {
	t.Helper()
	var (
		mu      sync.Mutex
		aborted gorm.ConnPool
	)
	before := func(db *gorm.DB) {
		mu.Lock()
		defer mu.Unlock()
		if aborted == nil || db.Statement.ConnPool != aborted {
			return
		}
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(db.Statement.SQL.String())), "ROLLBACK TO") {
			aborted = nil
			return
		}
		_ = db.AddError(ErrAborted)
	}
	after := func(db *gorm.DB) {
		if db.Error == nil || errors.Is(db.Error, gorm.ErrRecordNotFound) || errors.Is(db.Error, ErrAborted) {
			return
		}
		if _, inTx := db.Statement.ConnPool.(gorm.TxCommitter); !inTx {
			return
		}
		mu.Lock()
		aborted = db.Statement.ConnPool
		mu.Unlock()
	}

	cb := conn.Callback()
	register := []error{
		cb.Create().Before("gorm:create").Register("dbtest:abort_before_create", before),
		cb.Create().After("gorm:create").Register("dbtest:abort_after_create", after),
		cb.Query().Before("gorm:query").Register("dbtest:abort_before_query", before),
		cb.Query().After("gorm:query").Register("dbtest:abort_after_query", after),
		cb.Update().Before("gorm:update").Register("dbtest:abort_before_update", before),
		cb.Update().After("gorm:update").Register("dbtest:abort_after_update", after),
		cb.Delete().Before("gorm:delete").Register("dbtest:abort_before_delete", before),
		cb.Delete().After("gorm:delete").Register("dbtest:abort_after_delete", after),
		cb.Row().Before("gorm:row").Register("dbtest:abort_before_row", before),
		cb.Row().After("gorm:row").Register("dbtest:abort_after_row", after),
		cb.Raw().Before("gorm:raw").Register("dbtest:abort_before_raw", before),
		cb.Raw().After("gorm:raw").Register("dbtest:abort_after_raw", after),
	}
	for _, err := range register {
		if err != nil {
			t.Fatalf("register abort callback: %v", err)
		}
	}
}

// BeforeFirstWrite runs fn once, inside the same transaction, right before
// the first insert or update against table. Tests use it to land a competing
// row between a read and the write that depends on it.
func BeforeFirstWrite(t *testing.T, conn *gorm.DB, table string, fn func(tx *gorm.DB) error) {
	t.Helper()
	fired := false
	hook := func(db *gorm.DB) {
		if fired || db.Error != nil || db.Statement.Table != table {
			return
		}
		// set first: fn may write to table itself
		fired = true
		if err := fn(db.Session(&gorm.Session{NewDB: true})); err != nil {
			t.Errorf("before write on %s: %v", table, err)
		}
	}
	cb := conn.Callback()
	if err := cb.Create().Before("gorm:create").Register("dbtest:before_first_create_"+table, hook); err != nil {
		t.Fatalf("register create hook: %v", err)
	}
	if err := cb.Update().Before("gorm:update").Register("dbtest:before_first_update_"+table, hook); err != nil {
		t.Fatalf("register update hook: %v", err)
	}
}
