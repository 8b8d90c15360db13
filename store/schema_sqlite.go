package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS phones (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    model       TEXT NOT NULL UNIQUE,
    price       REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS stock (
    phone_id            INTEGER PRIMARY KEY REFERENCES phones(id),
    quantity_available  INTEGER NOT NULL DEFAULT 0 CHECK (quantity_available >= 0),
    quantity_reserved   INTEGER NOT NULL DEFAULT 0 CHECK (quantity_reserved >= 0),
    updated_at          TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS parts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE,
    supplier    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS inventory (
    part_id             INTEGER PRIMARY KEY REFERENCES parts(id),
    quantity_available  INTEGER NOT NULL DEFAULT 0 CHECK (quantity_available >= 0),
    updated_at          TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS machine_purchases (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    phone_id            INTEGER NOT NULL REFERENCES phones(id),
    machines_purchased  INTEGER NOT NULL,
    total_cost          REAL NOT NULL DEFAULT 0,
    weight_per_machine  REAL NOT NULL DEFAULT 0,
    rate_per_day        INTEGER NOT NULL DEFAULT 0,
    ratio               TEXT NOT NULL DEFAULT '{}',
    reference_number    TEXT NOT NULL DEFAULT '',
    account_number      TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL DEFAULT 'pending',
    purchased_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_machine_purchases_phone ON machine_purchases(phone_id, id);

CREATE TABLE IF NOT EXISTS machine_deliveries (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    machine_purchases_id  INTEGER NOT NULL REFERENCES machine_purchases(id),
    delivery_reference    TEXT NOT NULL UNIQUE,
    cost                  REAL NOT NULL DEFAULT 0,
    account_number        TEXT NOT NULL DEFAULT '',
    status                TEXT NOT NULL DEFAULT 'pending',
    units_received        INTEGER NOT NULL DEFAULT 0,
    created_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS machines (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    phone_id        INTEGER NOT NULL REFERENCES phones(id),
    purchase_id     INTEGER REFERENCES machine_purchases(id),
    rate_per_day    INTEGER NOT NULL,
    cost            REAL NOT NULL DEFAULT 0,
    date_acquired   TEXT NOT NULL,
    date_retired    TEXT
);

CREATE INDEX IF NOT EXISTS idx_machines_active ON machines(phone_id, date_retired);

CREATE TABLE IF NOT EXISTS machine_ratios (
    machine_id  INTEGER NOT NULL REFERENCES machines(id) ON DELETE CASCADE,
    part_id     INTEGER NOT NULL REFERENCES parts(id),
    quantity    INTEGER NOT NULL CHECK (quantity > 0),
    PRIMARY KEY (machine_id, part_id)
);

CREATE TABLE IF NOT EXISTS orders (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    price           REAL NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'pending',
    account_number  TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, created_at);

CREATE TABLE IF NOT EXISTS order_items (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    phone_id    INTEGER NOT NULL REFERENCES phones(id),
    quantity    INTEGER NOT NULL CHECK (quantity > 0),
    unit_price  REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS order_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    status      TEXT NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS consumer_deliveries (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id            INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    delivery_reference  TEXT NOT NULL UNIQUE,
    cost                REAL NOT NULL DEFAULT 0,
    status              TEXT NOT NULL DEFAULT 'pending',
    account_number      TEXT NOT NULL DEFAULT '',
    units_collected     INTEGER NOT NULL DEFAULT 0,
    created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS parts_purchases (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    reference_number  TEXT NOT NULL DEFAULT '',
    part_id           INTEGER NOT NULL REFERENCES parts(id),
    quantity          INTEGER NOT NULL,
    cost              REAL NOT NULL DEFAULT 0,
    status            TEXT NOT NULL DEFAULT 'pending',
    account_number    TEXT NOT NULL DEFAULT '',
    purchased_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bulk_deliveries (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    parts_purchase_id   INTEGER NOT NULL REFERENCES parts_purchases(id),
    delivery_reference  TEXT NOT NULL UNIQUE,
    cost                REAL NOT NULL DEFAULT 0,
    status              TEXT NOT NULL DEFAULT 'pending',
    address             TEXT NOT NULL DEFAULT '',
    units_received      INTEGER NOT NULL DEFAULT 0,
    created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_settings (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS external_effects (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    idempotency_key  TEXT NOT NULL UNIQUE,
    kind             TEXT NOT NULL,
    entity_type      TEXT NOT NULL DEFAULT '',
    entity_id        INTEGER NOT NULL DEFAULT 0,
    counterparty     TEXT NOT NULL DEFAULT '',
    amount           REAL NOT NULL DEFAULT 0,
    status           TEXT NOT NULL DEFAULT 'pending',
    external_ref     TEXT NOT NULL DEFAULT '',
    error            TEXT NOT NULL DEFAULT '',
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_external_effects_status ON external_effects(status, created_at);

CREATE TABLE IF NOT EXISTS outbox (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    topic       TEXT NOT NULL,
    payload     BLOB NOT NULL,
    msg_type    TEXT NOT NULL DEFAULT '',
    retries     INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    sent_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at, id);

CREATE TABLE IF NOT EXISTS audit_log (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type  TEXT NOT NULL,
    entity_id    INTEGER NOT NULL,
    action       TEXT NOT NULL,
    old_value    TEXT NOT NULL DEFAULT '',
    new_value    TEXT NOT NULL DEFAULT '',
    actor        TEXT NOT NULL DEFAULT 'system',
    created_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);
`
