package store

// Database schema definitions for the creator-blocks service

const createLedgersTable = `
CREATE TABLE IF NOT EXISTS block_ledgers (
    id UUID PRIMARY KEY,
    creator_id VARCHAR(255) NOT NULL,
    total_blocks BIGINT NOT NULL DEFAULT 0,
    used_blocks BIGINT NOT NULL DEFAULT 0,
    reserved_blocks BIGINT NOT NULL DEFAULT 0,
    joined_at TIMESTAMPTZ NOT NULL,
    grace_end TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    UNIQUE(creator_id),
    CHECK (total_blocks >= 0),
    CHECK (used_blocks >= 0),
    CHECK (reserved_blocks >= 0),
    CHECK (total_blocks - used_blocks - reserved_blocks >= 0)
);
`

const createCreditsTable = `
CREATE TABLE IF NOT EXISTS promotional_credits (
    id UUID PRIMARY KEY,
    creator_id VARCHAR(255) NOT NULL REFERENCES block_ledgers(creator_id) ON DELETE CASCADE,
    blocks BIGINT NOT NULL,
    granted_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,

    CHECK (blocks > 0)
);
`

const createIntentsTable = `
CREATE TABLE IF NOT EXISTS upload_intents (
    id UUID PRIMARY KEY,
    creator_id VARCHAR(255) NOT NULL,
    video_id VARCHAR(255) NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    estimated_size_gb DOUBLE PRECISION NOT NULL,
    blocks_needed BIGINT NOT NULL,
    reserved_blocks BIGINT NOT NULL DEFAULT 0,
    actual_size_gb DOUBLE PRECISION,
    actual_blocks BIGINT,
    state VARCHAR(50) NOT NULL CHECK (state IN (
        'estimated', 'reserved', 'uploading', 'completed',
        'failed', 'cancelled', 'pending_block_shortfall'
    )),
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (blocks_needed >= 1),
    CHECK (reserved_blocks >= 0)
);
`

const createPurchasesTable = `
CREATE TABLE IF NOT EXISTS block_purchases (
    id UUID PRIMARY KEY,
    creator_id VARCHAR(255) NOT NULL,
    blocks_requested BIGINT NOT NULL,
    unit_price DECIMAL(12,2) NOT NULL,
    total_price DECIMAL(12,2) NOT NULL,
    free_blocks_applied BIGINT NOT NULL DEFAULT 0,
    applied_credit_ids JSONB,
    status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'paid', 'failed', 'expired')),
    checkout_url TEXT NOT NULL DEFAULT '',
    idempotency_key VARCHAR(255) NOT NULL,
    external_reference VARCHAR(255),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    paid_at TIMESTAMPTZ,

    UNIQUE(idempotency_key),
    CHECK (blocks_requested >= 1),
    CHECK (total_price >= 0)
);
`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_credits_creator ON promotional_credits(creator_id);
CREATE INDEX IF NOT EXISTS idx_credits_expires ON promotional_credits(expires_at);
CREATE INDEX IF NOT EXISTS idx_intents_creator ON upload_intents(creator_id);
CREATE INDEX IF NOT EXISTS idx_intents_state_updated ON upload_intents(state, updated_at);
CREATE INDEX IF NOT EXISTS idx_purchases_creator ON block_purchases(creator_id);
CREATE INDEX IF NOT EXISTS idx_purchases_status_created ON block_purchases(status, created_at);
CREATE INDEX IF NOT EXISTS idx_purchases_reference ON block_purchases(external_reference);
`
