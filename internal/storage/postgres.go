package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"econbot/internal/calendar"
	"econbot/pkg/logx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger

	upsert string
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("store.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if pcfg.MaxConns > 4 {
		pcfg.MaxConns = 4
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	st := &postgresStore{
		pool:   pool,
		log:    log,
		upsert: upsertSQL(func(n int) string { return "$" + strconv.Itoa(n) }),
	}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("db", pcfg.ConnConfig.Database))
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(string(b)) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, key calendar.Key) (calendar.Event, bool, error) {
	k := calendar.NewKey(key.Name, key.At)
	ev, err := scanEvent(s.pool.QueryRow(ctx, selectSQL("key = $1"), k.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return calendar.Event{}, false, nil
	}
	if err != nil {
		return calendar.Event{}, false, err
	}
	return ev, true, nil
}

func (s *postgresStore) Put(ctx context.Context, ev calendar.Event) error {
	_, err := s.pool.Exec(ctx, s.upsert, eventArgs(ev)...)
	return err
}

func (s *postgresStore) Range(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	rows, err := s.pool.Query(ctx,
		selectSQL("scheduled_at >= $1 AND scheduled_at < $2 ORDER BY scheduled_at, name"),
		from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]calendar.Event, 0, 16)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *postgresStore) Prune(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE scheduled_at < $1`, before.Unix())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
