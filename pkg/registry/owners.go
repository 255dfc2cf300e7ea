package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReconcileOwners backfills owner (login/avatar/email/name) data for
// crates whose record is missing or older than staleAfter, as a pass
// separate from the builds rather than inline with every build. Each
// call makes one pass over at most 200 such crates; the daemon does
// not schedule it.
func ReconcileOwners(ctx context.Context, db *sql.DB, client *Client, log zerolog.Logger, staleAfter time.Duration) error {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM crates
		WHERE owner_synced_at IS NULL OR owner_synced_at < $1
		ORDER BY owner_synced_at NULLS FIRST
		LIMIT 200
	`, time.Now().Add(-staleAfter))
	if err != nil {
		return fmt.Errorf("registry: selecting stale crates: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, name := range names {
		data := client.CrateData(ctx, name)
		if err := syncOwners(ctx, db, name, data.Owners); err != nil {
			log.Warn().Err(err).Str("crate", name).Msg("owner sync failed, will retry next pass")
			continue
		}
	}
	return nil
}

func syncOwners(ctx context.Context, db *sql.DB, crateName string, owners []Owner) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var crateID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM crates WHERE name = $1`, crateName).Scan(&crateID); err != nil {
		return fmt.Errorf("crate %s not found: %w", crateName, err)
	}

	for _, o := range owners {
		var ownerID string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO owners (id, login, avatar, email, name)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (login) DO UPDATE SET
				avatar = EXCLUDED.avatar, email = EXCLUDED.email, name = EXCLUDED.name
			RETURNING id
		`, uuid.NewString(), o.Login, o.Avatar, o.Email, o.Name).Scan(&ownerID)
		if err != nil {
			return fmt.Errorf("upserting owner %s: %w", o.Login, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO crate_owners (crate_id, owner_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, crateID, ownerID); err != nil {
			return fmt.Errorf("linking owner %s to crate %s: %w", o.Login, crateName, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE crates SET owner_synced_at = now() WHERE id = $1`, crateID); err != nil {
		return err
	}
	return tx.Commit()
}
