package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"lettertrack/internal/blob"
	"lettertrack/internal/config"
	"lettertrack/internal/domain"
	"lettertrack/internal/ledger"
	"lettertrack/internal/metrics"
	"lettertrack/internal/repo"
	"lettertrack/internal/workflow"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Ledger     ledger.Writer
	HistoryLog ledger.Reader
	Graph      *workflow.Graph
	Config     *config.Config
	Blob       blob.Store
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Ledger:     ledger.Writer{},
		HistoryLog: ledger.Reader{DB: db},
		Graph:      workflow.Default(),
		Config:     cfg,
		Blob:       blob.NewMemory(cfg.Blob.PublicBaseURL),
		Logger:     zap.NewNop(),
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(domain.TimeFormat)
}

func (e Engine) log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// ledgerWriter shares the engine clock so tests control ledger timestamps.
func (e Engine) ledgerWriter() ledger.Writer {
	w := e.Ledger
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// InputError reports a malformed request field.
type InputError struct {
	Field string
	Msg   string
}

func (e InputError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func inputErr(field, format string, args ...any) error {
	return InputError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// notFound wraps repo.ErrNotFound with the missing entity.
func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
}

func lookupErr(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(kind, id)
	}
	return err
}

const trackingAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// trackingNumber renders <prefix>-<unix-ms>-<9 random upper alnum>.
func (e Engine) trackingNumber() (string, error) {
	var b strings.Builder
	n36 := big.NewInt(int64(len(trackingAlphabet)))
	for i := 0; i < 9; i++ {
		n, err := rand.Int(rand.Reader, n36)
		if err != nil {
			return "", err
		}
		b.WriteByte(trackingAlphabet[n.Int64()])
	}
	return fmt.Sprintf("%s-%d-%s", e.cfg().Workflow.TrackingPrefix, e.now().UnixMilli(), b.String()), nil
}

func rejectionReason(err error) string {
	var ise workflow.IllegalStateError
	switch {
	case errors.Is(err, workflow.ErrInvalidTransition):
		return "invalid_transition"
	case errors.As(err, &ise):
		return "illegal_state"
	case errors.Is(err, repo.ErrConflict):
		return "conflict"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	}
	if isForbidden(err) {
		return "forbidden"
	}
	return "error"
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
