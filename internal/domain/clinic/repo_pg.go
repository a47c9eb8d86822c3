package clinic

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type configSourcePG struct{ pool *pgxpool.Pool }

// NewConfigSourcePG reads clinic settings from the clinics table.
func NewConfigSourcePG(pool *pgxpool.Pool) ConfigSource { return &configSourcePG{pool: pool} }

func (r *configSourcePG) GetClinicSettings(ctx context.Context, clinicID int64) ([]byte, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT settings FROM clinics WHERE id = $1`, clinicID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load clinic %d settings: %w", clinicID, err)
	}
	return raw, nil
}
