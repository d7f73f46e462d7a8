package internal

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"

	"courier-console-api/internal/auth"

	"go.uber.org/zap"
)

type ctxKey string

const dbConnKey ctxKey = "dbconn"

// withDBConn pins one pooled connection to the request and sets the org
// GUC the row-level security policies read.
func withDBConn(ctx context.Context, db *sql.DB, orgID int64) (*sql.Conn, context.Context, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, ctx, err
	}
	_, err = conn.ExecContext(ctx, "SELECT set_config('app.current_org_id', $1, false)", strconv.FormatInt(orgID, 10))
	if err != nil {
		conn.Close()
		return nil, ctx, err
	}
	return conn, context.WithValue(ctx, dbConnKey, conn), nil
}

// releaseDBConn clears the GUC before the connection goes back to the pool.
func releaseDBConn(conn *sql.Conn) error {
	_, err := conn.ExecContext(context.Background(), "SELECT set_config('app.current_org_id', '', false)")
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// db prefers the request's pinned connection when RLS is on.
func (s *Server) db(ctx context.Context) querier {
	if v := ctx.Value(dbConnKey); v != nil {
		if c, ok := v.(*sql.Conn); ok {
			return c
		}
	}
	return s.DB
}

// withTx runs fn in a transaction on the request's connection.
func (s *Server) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var (
		tx  *sql.Tx
		err error
	)
	if c, ok := ctx.Value(dbConnKey).(*sql.Conn); ok {
		tx, err = c.BeginTx(ctx, nil)
	} else {
		tx, err = s.DB.BeginTx(ctx, nil)
	}
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// withRLSSession middleware for org isolation
func (s *Server) withRLSSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Config.RLSEnabled {
			next.ServeHTTP(w, r)
			return
		}
		orgID := auth.OrgIDFromContext(r.Context())
		conn, ctx, err := withDBConn(r.Context(), s.DB, orgID)
		if err != nil {
			s.Logger.Error("db acquire failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", "DB_UNAVAILABLE")
			return
		}
		defer func() {
			if err := releaseDBConn(conn); err != nil {
				s.Logger.Warn("db release failed", zap.Error(err))
			}
		}()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// scoped runs fn on a connection of its own, set to the caller's org when
// RLS is on. Concurrent queries of one request use it instead of sharing
// the request's pinned connection.
func (s *Server) scoped(ctx context.Context, fn func(q querier) error) error {
	if !s.Config.RLSEnabled {
		return fn(s.DB)
	}
	conn, _, err := withDBConn(ctx, s.DB, auth.OrgIDFromContext(ctx))
	if err != nil {
		return err
	}
	defer releaseDBConn(conn)
	return fn(conn)
}
