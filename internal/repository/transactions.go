package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Append stores an analyzed transaction. Records are immutable; a second
// append with the same id fails.
func (r *SQLRepository) Append(ctx context.Context, rec *domain.TransactionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record id is required", domain.ErrInvalidInput)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return storageErr("encode record", err)
	}

	query := `
		INSERT INTO transactions (id, tx_date, caller, status, fraud_score, record, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.Date(), rec.Caller,
		string(rec.Result.Status), rec.Result.FraudScore,
		string(data), time.Now().UTC(),
	)
	if err != nil {
		return storageErr("append transaction", err)
	}
	return nil
}

// List returns every record in insertion order.
func (r *SQLRepository) List(ctx context.Context) ([]*domain.TransactionRecord, error) {
	return r.queryRecords(ctx, `SELECT record FROM transactions ORDER BY seq`)
}

// ListByDate groups records by UTC date, insertion order kept per date.
func (r *SQLRepository) ListByDate(ctx context.Context) (map[string][]*domain.TransactionRecord, error) {
	records, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string][]*domain.TransactionRecord)
	for _, rec := range records {
		d := rec.Date()
		byDate[d] = append(byDate[d], rec)
	}
	return byDate, nil
}

// Clear deletes every transaction record.
func (r *SQLRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
		return storageErr("clear transactions", err)
	}
	return nil
}

// CountByStatus returns the number of records per status.
func (r *SQLRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM transactions GROUP BY status`)
	if err != nil {
		return nil, storageErr("count transactions", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storageErr("scan count", err)
		}
		counts[domain.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("count transactions", err)
	}
	return counts, nil
}

func (r *SQLRepository) queryRecords(ctx context.Context, query string, args ...any) ([]*domain.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	defer rows.Close()

	var records []*domain.TransactionRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr("scan transaction", err)
		}
		var rec domain.TransactionRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, storageErr("decode transaction", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list transactions", err)
	}
	return records, nil
}
