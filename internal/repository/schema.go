package repository

import (
	"context"
	"fmt"
)

// schema is idempotent so Migrate can run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              UUID PRIMARY KEY,
	email           TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL DEFAULT '',
	installation_id TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS meters (
	account_number TEXT PRIMARY KEY,
	balance        BIGINT NOT NULL DEFAULT 0,
	model          TEXT NOT NULL,
	owner_id       UUID REFERENCES users (id),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS readings (
	id             UUID PRIMARY KEY,
	account_number TEXT NOT NULL REFERENCES meters (account_number),
	task_name      TEXT NOT NULL,
	measure        BIGINT NOT NULL,
	consumption    BIGINT NOT NULL,
	human          BOOLEAN NOT NULL DEFAULT false,
	read_at        TIMESTAMPTZ NOT NULL,
	seq            BIGINT GENERATED ALWAYS AS IDENTITY,
	UNIQUE (account_number, task_name)
);
ALTER TABLE readings ADD COLUMN IF NOT EXISTS seq BIGINT GENERATED ALWAYS AS IDENTITY;
-- seq is commit order per meter: rows are inserted under the meter's row lock.
CREATE INDEX IF NOT EXISTS readings_account_seq_idx ON readings (account_number, seq DESC);

CREATE TABLE IF NOT EXISTS bills (
	id             UUID PRIMARY KEY,
	account_number TEXT NOT NULL REFERENCES meters (account_number),
	bill_date      TIMESTAMPTZ NOT NULL,
	balance        BIGINT NOT NULL,
	amount         NUMERIC(14, 2) NOT NULL,
	status         TEXT NOT NULL CHECK (status IN ('Unpaid', 'Paid')),
	paid_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS bills_account_idx ON bills (account_number, bill_date);

CREATE TABLE IF NOT EXISTS prepays (
	id             UUID PRIMARY KEY,
	account_number TEXT NOT NULL REFERENCES meters (account_number),
	prepay_date    TIMESTAMPTZ NOT NULL,
	balance        BIGINT NOT NULL,
	prepay         BIGINT NOT NULL,
	amount         NUMERIC(14, 2) NOT NULL,
	status         TEXT NOT NULL CHECK (status IN ('Unpaid', 'Paid')),
	paid_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS prepays_account_idx ON prepays (account_number, prepay_date);

CREATE TABLE IF NOT EXISTS tasks (
	queue        TEXT NOT NULL,
	name         TEXT NOT NULL,
	payload      TEXT NOT NULL,
	enqueued_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	leased_until TIMESTAMPTZ,
	lease_count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (queue, name)
);
CREATE INDEX IF NOT EXISTS tasks_queue_enqueued_idx ON tasks (queue, enqueued_at);
`

// Migrate creates the ledger and task queue tables when missing
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
