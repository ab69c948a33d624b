package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by the domain repositories. It owns the connection a
// repository writes through, which is either the pool or an open transaction.
type Base struct {
	db *gorm.DB
}

// NewBase binds a Base to the pool connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the bound connection scoped to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Bind returns a copy of b that writes through tx. A nil tx keeps the current connection.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// InTx reports whether b is bound to a transaction rather than the pool.
func (b Base) InTx() bool {
	if b.db == nil || b.db.Statement == nil {
		return false
	}
	_, ok := b.db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}
