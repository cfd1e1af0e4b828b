package store

// Migrations are append-only: never edit a shipped entry, add a new one.
// Version numbers greater than the stored maximum are applied in order
// under a single write transaction.

const schemaV1 = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL CHECK(length(name) > 0 AND length(name) <= 256),
    description TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_projects_created_at ON projects(created_at);

CREATE TABLE IF NOT EXISTS assets (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('mesh', 'image', 'full')),
    file_path TEXT NOT NULL,
    thumbnail_path TEXT,
    file_size INTEGER NOT NULL DEFAULT 0 CHECK(file_size >= 0),
    metadata TEXT NOT NULL DEFAULT '' CHECK(length(metadata) <= 65536),
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assets_project ON assets(project_id);

CREATE TABLE IF NOT EXISTS history (
    id TEXT PRIMARY KEY,
    asset_id TEXT REFERENCES assets(id) ON DELETE SET NULL,
    project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,
    kind TEXT NOT NULL CHECK(kind IN ('mesh', 'image', 'full')),
    prompt TEXT CHECK(prompt IS NULL OR length(prompt) <= 8192),
    status TEXT NOT NULL DEFAULT 'queued'
        CHECK(status IN ('queued', 'processing', 'complete', 'failed')),
    generation_time_seconds REAL
        CHECK(generation_time_seconds IS NULL OR generation_time_seconds >= 0),
    vram_usage_mb REAL CHECK(vram_usage_mb IS NULL OR vram_usage_mb >= 0),
    error_message TEXT,
    metadata TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    completed_at DATETIME,
    -- completed_at is non-null exactly on terminal rows
    CHECK((status IN ('complete', 'failed')) = (completed_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_history_status ON history(status);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON history(created_at);
CREATE INDEX IF NOT EXISTS idx_history_project ON history(project_id);
`

// schemaV2 adds a partial index for the scheduler's dequeue query, which
// scans only queued rows in created_at order.
const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_history_queued
    ON history(created_at) WHERE status = 'queued';
`
