package stac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/paulmach/orb"
)

// SnapshotIndex is a Postgres table of STAC items from a static catalog
// snapshot, searched by bounding box overlap.
type SnapshotIndex struct {
	db *sql.DB
}

const snapshotSchema = `
create table if not exists stac_items (
	id         text not null,
	collection text not null,
	datetime   timestamptz,
	min_x      double precision not null,
	min_y      double precision not null,
	max_x      double precision not null,
	max_y      double precision not null,
	doc        jsonb not null,
	primary key (collection, id)
);
create index if not exists stac_items_bbox on stac_items (collection, min_x, max_x, min_y, max_y);
`

// OpenSnapshotIndex connects with a lib/pq DSN such as
// "user=api host=/var/run/postgresql dbname=stac sslmode=disable".
func OpenSnapshotIndex(dsn string, pool, limit int) (*SnapshotIndex, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if pool > 0 {
		db.SetMaxIdleConns(pool)
	}
	if limit > 0 {
		db.SetMaxOpenConns(limit)
	}
	return &SnapshotIndex{db: db}, nil
}

func NewSnapshotIndex(db *sql.DB) *SnapshotIndex {
	return &SnapshotIndex{db: db}
}

func (s *SnapshotIndex) Close() error {
	return s.db.Close()
}

func (s *SnapshotIndex) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, snapshotSchema)
	return err
}

// Upsert inserts or replaces items in a single transaction.
func (s *SnapshotIndex) Upsert(ctx context.Context, items []*Item) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		insert into stac_items (id, collection, datetime, min_x, min_y, max_x, max_y, doc)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (collection, id) do update set
			datetime = excluded.datetime,
			min_x = excluded.min_x, min_y = excluded.min_y,
			max_x = excluded.max_x, max_y = excluded.max_y,
			doc = excluded.doc`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, it := range items {
		b, err := it.Bound()
		if err != nil {
			tx.Rollback()
			return n, err
		}
		doc, err := json.Marshal(it)
		if err != nil {
			tx.Rollback()
			return n, err
		}
		var dt pq.NullTime
		if t, err := it.Datetime(); err == nil {
			dt = pq.NullTime{Time: t, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, it.ID, it.Collection, dt,
			b.Min[0], b.Min[1], b.Max[0], b.Max[1], string(doc)); err != nil {
			tx.Rollback()
			return n, fmt.Errorf("failed to upsert item %s: %w", it.ID, err)
		}
		n++
	}
	return n, tx.Commit()
}

// Intersects returns the items of collection whose bbox overlaps bounds.
func (s *SnapshotIndex) Intersects(ctx context.Context, collection string, bounds orb.Bound) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		select doc from stac_items
		where collection = $1
		  and min_x <= $4 and max_x >= $2
		  and min_y <= $5 and max_y >= $3
		order by datetime nulls last, id`,
		collection, bounds.Min[0], bounds.Min[1], bounds.Max[0], bounds.Max[1])
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

// ByIDs fetches the given items of a collection.
func (s *SnapshotIndex) ByIDs(ctx context.Context, collection string, ids []string) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`select doc from stac_items where collection = $1 and id = any($2) order by id`,
		collection, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]*Item, error) {
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var it Item
		if err := json.Unmarshal(doc, &it); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// ItemCollectionJSON encodes items as a FeatureCollection.
func ItemCollectionJSON(items []*Item) ([]byte, error) {
	if items == nil {
		items = []*Item{}
	}
	return json.Marshal(&ItemCollection{Type: "FeatureCollection", Features: items})
}
