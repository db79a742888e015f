package contacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/waops/wadispatch/apperror"
)

// Querier is the slice of pgxpool.Pool the resolver needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Resolver maps an opaque contact reference to a phone number. Read-only,
// no caching, no retry; the pool handles connection sharing across
// concurrent handlers.
type Resolver struct {
	db Querier
}

func NewResolver(db Querier) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the phone number on record for ref. A missing row or an
// empty phone column both surface as NotFoundError.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	var phone *string
	err := r.db.QueryRow(ctx,
		`SELECT phone_number FROM contacts WHERE id = $1`, ref,
	).Scan(&phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &apperror.NotFoundError{Ref: ref}
	}
	if err != nil {
		return "", fmt.Errorf("query contact %s: %w", ref, err)
	}
	if phone == nil || *phone == "" {
		return "", &apperror.NotFoundError{Ref: ref}
	}
	return *phone, nil
}
