package store

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/state"
)

// EventFilter selects a page of the event feed.
type EventFilter struct {
	After   int64  // only events with seq > After
	Limit   int    // 0 means no limit
	Name    string // optional exact event name
	Emitter string // optional EIP-55 emitter address
}

// LoadState seeds db with every persisted account and slot. Loading bypasses
// the journal, so the loaded state is the committed baseline.
func (s *Store) LoadState(ctx context.Context, db *state.DB) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, balance, nonce, code FROM accounts ORDER BY address
	`)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			addr, balance, code string
			nonce               int64
		)
		if err := rows.Scan(&addr, &balance, &nonce, &code); err != nil {
			return fmt.Errorf("scan account: %w", err)
		}
		bal, err := uint256.FromDecimal(balance)
		if err != nil {
			return fmt.Errorf("account %s: parse balance %q: %w", addr, balance, err)
		}
		db.Load(common.HexToAddress(addr), bal, uint64(nonce), code)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate accounts: %w", err)
	}

	slotRows, err := s.db.QueryContext(ctx, `
		SELECT address, slot, value FROM storage ORDER BY address, slot
	`)
	if err != nil {
		return fmt.Errorf("load storage: %w", err)
	}
	defer slotRows.Close()

	for slotRows.Next() {
		var (
			addr, slot string
			value      []byte
		)
		if err := slotRows.Scan(&addr, &slot, &value); err != nil {
			return fmt.Errorf("scan slot: %w", err)
		}
		db.LoadSlot(common.HexToAddress(addr), common.HexToHash(slot), value)
	}
	if err := slotRows.Err(); err != nil {
		return fmt.Errorf("iterate storage: %w", err)
	}
	return nil
}

// LastSeq returns the highest seq used by any call or event.
// Used on reopen to resume the logical clock.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(seq), 0) FROM calls),
			(SELECT COALESCE(MAX(seq), 0) FROM events)
		)
	`).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return maxSeq, nil
}

const callColumns = `id, seq, kind, from_addr, to_addr, value, input, digest, status, error_code, error, output, timestamp`

// ReadCall retrieves one call record by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadCall(ctx context.Context, id string) (ir.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id)
	return scanCall(row)
}

// ReadCalls returns call records with seq > after, ordered by seq.
// limit <= 0 returns everything.
func (s *Store) ReadCalls(ctx context.Context, after int64, limit int) ([]ir.CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, after, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("read calls: %w", err)
	}
	defer rows.Close()

	var out []ir.CallRecord
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return out, nil
}

// ReadEvents returns a page of the event feed ordered by seq.
func (s *Store) ReadEvents(ctx context.Context, f EventFilter) ([]ir.Event, error) {
	query := `SELECT id, seq, call_id, emitter, name, fields FROM events WHERE seq > ?`
	args := []any{f.After}
	if f.Name != "" {
		query += ` AND name = ?`
		args = append(args, f.Name)
	}
	if f.Emitter != "" {
		query += ` AND emitter = ?`
		args = append(args, f.Emitter)
	}
	query += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, sqlLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []ir.Event
	for rows.Next() {
		var (
			ev     ir.Event
			fields string
		)
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.CallID, &ev.Emitter, &ev.Name, &fields); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Fields, err = unmarshalFields(fields)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// ResolveLabel returns the address stored under name.
// Returns sql.ErrNoRows if not found.
func (s *Store) ResolveLabel(ctx context.Context, name string) (string, error) {
	var addr string
	err := s.db.QueryRowContext(ctx, `SELECT address FROM labels WHERE name = ?`, name).Scan(&addr)
	if err != nil {
		return "", err
	}
	return addr, nil
}

// Labels returns every label, ordered by name.
func (s *Store) Labels(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, address FROM labels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, addr string
		if err := rows.Scan(&name, &addr); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out[name] = addr
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (ir.CallRecord, error) {
	var (
		c      ir.CallRecord
		status string
	)
	err := row.Scan(
		&c.ID, &c.Seq, &c.Kind, &c.From, &c.To, &c.Value, &c.Input, &c.Digest,
		&status, &c.ErrorCode, &c.Error, &c.Output, &c.Timestamp,
	)
	if err != nil {
		return ir.CallRecord{}, err
	}
	c.Status = ir.CallStatus(status)
	return c, nil
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
