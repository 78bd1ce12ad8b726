package database

import (
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// TxManager wraps multi-row repository writes in a single database
// transaction, with optional compensating actions for side effects the
// database itself cannot roll back (an exchange cancel already sent, say).
// Single-row updates go straight through Database; TxManager is only for
// writes spanning more than one table or row (§5, §6).
type TxManager struct {
	db *Database
}

func NewTxManager(db *Database) *TxManager {
	return &TxManager{db: db}
}

// Compensation runs only if the wrapped function returns an error, after
// the transaction has rolled back.
type Compensation func()

// WithTx runs fn inside a transaction-scoped *Database. If fn returns an
// error the transaction rolls back and any registered compensations run.
func (tm *TxManager) WithTx(fn func(tx *Database, compensate func(Compensation)) error) error {
	var compensations []Compensation

	err := tm.db.Gorm().Transaction(func(gdb *gorm.DB) error {
		txDB := NewFromGorm(gdb)
		return fn(txDB, func(c Compensation) {
			compensations = append(compensations, c)
		})
	})

	if err != nil {
		for i := len(compensations) - 1; i >= 0; i-- {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("compensation action panicked")
					}
				}()
				compensations[i]()
			}()
		}
	}

	return err
}
