// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface defines the database interfaces shared by the store
// packages so they can accept either *database.DB or *sql.Tx without
// importing the database package directly.
package dbinterface

import (
	"context"
	"database/sql"
)

// Querier is the read/write surface common to a database handle and an open
// transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxQuerier additionally opens transactions. The stores use it for
// multi-statement operations that must commit atomically.
type TxQuerier interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
