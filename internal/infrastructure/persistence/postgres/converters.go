package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/merchkit/opshub/internal/domain"
)

func marshalPayload(p domain.Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b, nil
}

func unmarshalPayload(b []byte) (domain.Payload, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var p domain.Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return p, nil
}

// mapIDError converts malformed-uuid errors into the domain sentinel so
// handlers can answer 400 instead of 500.
func mapIDError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return domain.ErrInvalidID
	}
	return err
}
