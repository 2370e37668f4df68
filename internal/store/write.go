package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/state"
)

// Unit is everything one unit of work leaves behind. Reverted units carry
// only their call record.
type Unit struct {
	Call    ir.CallRecord
	Changes state.Changeset
	Events  []ir.Event
}

// CommitUnit writes the call record, state changes and events of a unit in
// one transaction.
//
// Slot changes with an empty value delete the slot row, matching the
// in-memory rule that empty slots do not exist.
func (s *Store) CommitUnit(ctx context.Context, unit Unit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit unit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := insertCall(ctx, tx, unit.Call); err != nil {
		return fmt.Errorf("commit unit %s: %w", unit.Call.ID, err)
	}
	if err := writeChanges(ctx, tx, unit.Changes); err != nil {
		return fmt.Errorf("commit unit %s: %w", unit.Call.ID, err)
	}
	for _, ev := range unit.Events {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("commit unit %s: %w", unit.Call.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unit %s: commit: %w", unit.Call.ID, err)
	}
	return nil
}

func insertCall(ctx context.Context, tx *sql.Tx, c ir.CallRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO calls
		(id, seq, kind, from_addr, to_addr, value, input, digest, status, error_code, error, output, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.Seq,
		c.Kind,
		c.From,
		c.To,
		c.Value,
		c.Input,
		c.Digest,
		string(c.Status),
		c.ErrorCode,
		c.Error,
		c.Output,
		c.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func writeChanges(ctx context.Context, tx *sql.Tx, cs state.Changeset) error {
	for _, acc := range cs.Accounts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (address, balance, nonce, code)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				balance = excluded.balance,
				nonce = excluded.nonce,
				code = excluded.code
		`,
			acc.Address.Hex(),
			acc.Balance.Dec(),
			int64(acc.Nonce),
			acc.Code,
		)
		if err != nil {
			return fmt.Errorf("upsert account %s: %w", acc.Address.Hex(), err)
		}
	}

	for _, slot := range cs.Slots {
		var err error
		if len(slot.Value) == 0 {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM storage WHERE address = ? AND slot = ?
			`, slot.Address.Hex(), slot.Slot.Hex())
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO storage (address, slot, value)
				VALUES (?, ?, ?)
				ON CONFLICT(address, slot) DO UPDATE SET value = excluded.value
			`, slot.Address.Hex(), slot.Slot.Hex(), slot.Value)
		}
		if err != nil {
			return fmt.Errorf("write slot %s/%s: %w", slot.Address.Hex(), slot.Slot.Hex(), err)
		}
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev ir.Event) error {
	fields, err := marshalFields(ev.Fields)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.Name, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, seq, call_id, emitter, name, fields)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		ev.ID,
		ev.Seq,
		ev.CallID,
		ev.Emitter,
		ev.Name,
		fields,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.Name, err)
	}
	return nil
}

// SetLabel names an address (e.g. "proxy", "ledger"). Relabeling overwrites.
func (s *Store) SetLabel(ctx context.Context, name, address string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (name, address) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET address = excluded.address
	`, name, address)
	if err != nil {
		return fmt.Errorf("set label %s: %w", name, err)
	}
	return nil
}
