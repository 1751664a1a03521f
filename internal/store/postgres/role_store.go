package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openwager/poolhouse/internal/domain"
)

// RoleStore implements domain.RoleStore using PostgreSQL. It holds one row
// per role so a reporter rotation survives restarts.
type RoleStore struct {
	pool *pgxpool.Pool
}

// NewRoleStore creates a new RoleStore backed by the given connection pool.
func NewRoleStore(pool *pgxpool.Pool) *RoleStore {
	return &RoleStore{pool: pool}
}

// Set records the address currently holding a role.
func (s *RoleStore) Set(ctx context.Context, role string, addr common.Address) error {
	const query = `
		INSERT INTO roles (role, address, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (role) DO UPDATE SET
			address    = EXCLUDED.address,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, role, hexAddr(addr)); err != nil {
		return fmt.Errorf("postgres: set role %s: %w", role, err)
	}
	return nil
}

// Get returns the address holding a role, or domain.ErrNotFound when the
// role has never been recorded.
func (s *RoleStore) Get(ctx context.Context, role string) (common.Address, error) {
	var addr string
	err := s.pool.QueryRow(ctx,
		`SELECT address FROM roles WHERE role = $1`, role).Scan(&addr)
	if err != nil {
		if err == pgx.ErrNoRows {
			return common.Address{}, domain.ErrNotFound
		}
		return common.Address{}, fmt.Errorf("postgres: get role %s: %w", role, err)
	}
	return common.HexToAddress(addr), nil
}
