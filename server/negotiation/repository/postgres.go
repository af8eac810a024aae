package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"

	"negotiation_server/server/common/errs"
)

func notFoundOr(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound(resource, id)
	}
	return err
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
