package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"troops/internal/db"
	"troops/internal/domain"
	"troops/internal/migrate"
)

// SQLite appends reports to a local database, one row per report and one
// row per value.
type SQLite struct {
	DB  *sql.DB
	Now func() time.Time
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite destination needs a path", ErrUnsupportedDestination)
	}
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &SQLite{DB: conn, Now: time.Now}, nil
}

func (s *SQLite) Write(ctx context.Context, campaign domain.Campaign, r domain.Report) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `INSERT INTO reports(received_at,report_time,place,purpose,campaign) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), r.Time, nullable(r.Place), r.Purpose, campaign.ID())
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for i, v := range r.Values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO report_values(report_id,position,type,value,unit,value_time,author) VALUES (?,?,?,?,?,?,?)`,
			id, i, v.Type, v.Value, nullable(v.Unit), nullable(v.Time), nullable(v.Author)); err != nil {
			return fmt.Errorf("insert report value: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Close() error { return s.DB.Close() }

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
