package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// Store bundles the SQLite-backed repositories and implements
// [domain.TxRunner]. Repositories obtained through Repos run in autocommit
// mode; InTx hands the unit of work transaction-bound copies.
type Store struct {
	DB *sql.DB
}

// Repos returns autocommit repositories over the store's database.
func (s *Store) Repos() domain.Repos {
	return bindRepos(s.DB)
}

// InTx runs fn inside one transaction. The repositories passed to fn share
// the transaction; every write commits together or the whole unit rolls
// back.
func (s *Store) InTx(ctx context.Context, fn func(domain.Repos) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(bindRepos(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func bindRepos(db dbtx) domain.Repos {
	return domain.Repos{
		Rollouts:  &RolloutRepo{DB: db},
		Steps:     &StepRepo{DB: db},
		Statuses:  &StatusRepo{DB: db},
		Nodes:     &NodeRepo{DB: db},
		Approvals: &ApprovalRepo{DB: db},
	}
}
