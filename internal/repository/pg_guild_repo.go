package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildpulse/guildsync/internal/domain"
)

type pgGuildRepository struct {
	pool *pgxpool.Pool
}

// NewPgGuildRepository returns a read-only GuildRepository backed by the
// guilds table.
func NewPgGuildRepository(pool *pgxpool.Pool) GuildRepository {
	return &pgGuildRepository{pool: pool}
}

const guildColumns = `id, name, realm, activity_tier, world_rank, crest_url, last_raid_at`

func (r *pgGuildRepository) ListByTier(ctx context.Context, tier domain.ActivityTier) ([]*domain.Guild, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+guildColumns+`
		FROM guilds WHERE activity_tier = $1
		ORDER BY name ASC`, tier)
	if err != nil {
		return nil, fmt.Errorf("list guilds by tier: %w", err)
	}
	defer rows.Close()
	return scanGuilds(rows)
}

func (r *pgGuildRepository) ListActiveSince(ctx context.Context, since time.Time) ([]*domain.Guild, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+guildColumns+`
		FROM guilds WHERE last_raid_at >= $1
		ORDER BY last_raid_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("list active guilds: %w", err)
	}
	defer rows.Close()
	return scanGuilds(rows)
}

func scanGuilds(rows pgx.Rows) ([]*domain.Guild, error) {
	var result []*domain.Guild
	for rows.Next() {
		var g domain.Guild
		if err := rows.Scan(&g.ID, &g.Name, &g.Realm, &g.ActivityTier,
			&g.WorldRank, &g.CrestURL, &g.LastRaidAt); err != nil {
			return nil, err
		}
		result = append(result, &g)
	}
	return result, rows.Err()
}
