package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roomsync-dev/roomsync/internal/model"
)

// Store is the persistence surface shared by the relay, the writer, and
// the compactor.
type Store interface {
	// AppendUpdates inserts a batch of updates. Rows that already exist
	// are skipped, so replaying a batch is safe. Returns how many rows
	// were inserted and how many were skipped as duplicates.
	AppendUpdates(ctx context.Context, updates []model.Update) (inserted, conflicts int, err error)

	// LoadRoom returns the latest snapshot (nil when none exists) and
	// every update after it, as one consistent view of the room.
	LoadRoom(ctx context.Context, room string) (snapshot []byte, snapshotSeq int64, updates []model.Update, err error)

	// Updates returns the logged updates with seq > since, in order.
	Updates(ctx context.Context, room string, since int64) ([]model.Update, error)

	// Snapshot returns the latest snapshot for a room. All three return
	// values are zero when the room has no snapshot.
	Snapshot(ctx context.Context, room string) (payload []byte, seq int64, err error)

	// SaveSnapshot stores the snapshot covering sequence numbers up to
	// seq. A save that would move seq backward is ignored.
	SaveSnapshot(ctx context.Context, room string, seq int64, payload []byte) error

	// TrimUpdates deletes logged updates with seq <= upTo and returns
	// how many rows were removed.
	TrimUpdates(ctx context.Context, room string, upTo int64) (int64, error)

	// LastSeq returns the highest sequence number recorded for a room,
	// across both the update log and the snapshot. Zero for an unknown room.
	LastSeq(ctx context.Context, room string) (int64, error)

	// Rooms lists rooms whose update log holds at least minLog rows.
	Rooms(ctx context.Context, minLog int) ([]model.RoomInfo, error)
}

// Postgres implements Store over a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store on an existing pool. The caller
// keeps ownership of the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const updatesDDL = `
CREATE TABLE IF NOT EXISTS room_updates (
	room        TEXT        NOT NULL,
	seq         BIGINT      NOT NULL,
	origin      UUID        NOT NULL,
	payload     BYTEA       NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (room, seq)
)`

const snapshotsDDL = `
CREATE TABLE IF NOT EXISTS room_snapshots (
	room       TEXT        PRIMARY KEY,
	seq        BIGINT      NOT NULL,
	payload    BYTEA       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// Bootstrap creates the schema if it does not exist yet.
func (p *Postgres) Bootstrap(ctx context.Context) error {
	for _, ddl := range []string{updatesDDL, snapshotsDDL} {
		if _, err := p.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// AppendUpdates inserts updates using a single pgx batch with
// ON CONFLICT DO NOTHING, counting conflicts via RowsAffected.
func (p *Postgres) AppendUpdates(ctx context.Context, updates []model.Update) (int, int, error) {
	if len(updates) == 0 {
		return 0, 0, nil
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`
			INSERT INTO room_updates (room, seq, origin, payload, received_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (room, seq) DO NOTHING
		`, u.Room, u.Seq, u.Origin, u.Payload, u.ReceivedAt)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted, conflicts := 0, 0
	for range updates {
		ct, err := results.Exec()
		if err != nil {
			return inserted, conflicts, fmt.Errorf("insert update: %w", err)
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		} else {
			inserted++
		}
	}

	return inserted, conflicts, nil
}

// LoadRoom reads the snapshot and the trailing updates inside one
// repeatable-read transaction, so a concurrent compaction cannot leave
// a hole between the two reads.
func (p *Postgres) LoadRoom(ctx context.Context, room string) ([]byte, int64, []model.Update, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, 0, nil, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback(ctx)

	snapshot, seq, err := querySnapshot(ctx, tx, room)
	if err != nil {
		return nil, 0, nil, err
	}

	updates, err := queryUpdates(ctx, tx, room, seq)
	if err != nil {
		return nil, 0, nil, err
	}

	return snapshot, seq, updates, nil
}

func (p *Postgres) Updates(ctx context.Context, room string, since int64) ([]model.Update, error) {
	return queryUpdates(ctx, p.pool, room, since)
}

func (p *Postgres) Snapshot(ctx context.Context, room string) ([]byte, int64, error) {
	return querySnapshot(ctx, p.pool, room)
}

// SaveSnapshot upserts the room snapshot. The guard keeps seq from
// moving backward when compaction cycles race across instances.
func (p *Postgres) SaveSnapshot(ctx context.Context, room string, seq int64, payload []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO room_snapshots (room, seq, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (room) DO UPDATE
		SET seq = EXCLUDED.seq, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
		WHERE room_snapshots.seq < EXCLUDED.seq
	`, room, seq, payload)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) TrimUpdates(ctx context.Context, room string, upTo int64) (int64, error) {
	ct, err := p.pool.Exec(ctx, `
		DELETE FROM room_updates WHERE room = $1 AND seq <= $2
	`, room, upTo)
	if err != nil {
		return 0, fmt.Errorf("trim updates: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (p *Postgres) LastSeq(ctx context.Context, room string) (int64, error) {
	var seq int64
	err := p.pool.QueryRow(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT MAX(seq) FROM room_updates WHERE room = $1), 0),
			COALESCE((SELECT seq FROM room_snapshots WHERE room = $1), 0))
	`, room).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("load last seq: %w", err)
	}
	return seq, nil
}

func (p *Postgres) Rooms(ctx context.Context, minLog int) ([]model.RoomInfo, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT room, COUNT(*), MAX(seq), MAX(received_at)
		FROM room_updates
		GROUP BY room
		HAVING COUNT(*) >= $1
		ORDER BY COUNT(*) DESC
	`, minLog)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var infos []model.RoomInfo
	for rows.Next() {
		var info model.RoomInfo
		if err := rows.Scan(&info.Room, &info.LogLen, &info.Seq, &info.LastActivity); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	return infos, nil
}

// querier lets the read helpers run on either the pool or a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func querySnapshot(ctx context.Context, q querier, room string) ([]byte, int64, error) {
	var payload []byte
	var seq int64
	err := q.QueryRow(ctx, `
		SELECT payload, seq FROM room_snapshots WHERE room = $1
	`, room).Scan(&payload, &seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot: %w", err)
	}
	return payload, seq, nil
}

func queryUpdates(ctx context.Context, q querier, room string, since int64) ([]model.Update, error) {
	rows, err := q.Query(ctx, `
		SELECT room, seq, origin, payload, received_at
		FROM room_updates
		WHERE room = $1 AND seq > $2
		ORDER BY seq
	`, room, since)
	if err != nil {
		return nil, fmt.Errorf("load updates: %w", err)
	}
	defer rows.Close()

	var updates []model.Update
	for rows.Next() {
		var u model.Update
		if err := rows.Scan(&u.Room, &u.Seq, &u.Origin, &u.Payload, &u.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load updates: %w", err)
	}

	return updates, nil
}
