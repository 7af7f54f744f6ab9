package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

const (
	pqInvalidTextRepresentation pq.ErrorCode = "22P02"
	pqCheckViolation            pq.ErrorCode = "23514"
)

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// HandleNotFound converts a missing row into a nil result without error.
// Ids are UUID columns, so an id Postgres cannot parse is also a miss.
//
//	var rec model.SessionRecord
//	err := r.db.GetContext(ctx, &rec, query, id)
//	return HandleNotFound(&rec, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) || pqCode(err) == pqInvalidTextRepresentation {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// rowsAffected unwraps an Exec result. A write keyed by an id Postgres
// cannot parse as a UUID matched nothing.
func rowsAffected(result sql.Result, err error) (int64, error) {
	if pqCode(err) == pqInvalidTextRepresentation {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
