package db

const schema = `
-- Performance and reliability settings
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- Tracked pages: URLs under surveillance plus the snapshot of their last check
CREATE TABLE IF NOT EXISTS tracked_pages (
    page_id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL UNIQUE,
    title TEXT,
    last_fingerprint TEXT,
    last_segments TEXT,              -- JSON array, ordered as hashed
    error_count INTEGER NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT 1,
    render_mode TEXT NOT NULL DEFAULT 'static',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_checked_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pages_active ON tracked_pages(active) WHERE active = 1;

-- URL accesses: every fetch attempt tracked
CREATE TABLE IF NOT EXISTS url_accesses (
    access_id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER NOT NULL,
    accessed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    method TEXT,
    status_code INTEGER,
    error_type TEXT,
    success BOOLEAN NOT NULL,
    FOREIGN KEY (page_id) REFERENCES tracked_pages(page_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_accesses_page ON url_accesses(page_id);
CREATE INDEX IF NOT EXISTS idx_accesses_time ON url_accesses(accessed_at);

-- Events: deduplicated findings, immutable once written
CREATE TABLE IF NOT EXISTS events (
    event_id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER NOT NULL,
    title TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'EVENT',
    summary TEXT,
    date_iso TEXT,                   -- YYYY-MM-DD or NULL
    date_text TEXT,
    price TEXT,
    price_info TEXT,
    location TEXT,
    source_link TEXT,
    content_hash TEXT NOT NULL UNIQUE,
    is_future BOOLEAN NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (page_id) REFERENCES tracked_pages(page_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_date ON events(date_iso);
CREATE INDEX IF NOT EXISTS idx_events_future ON events(is_future) WHERE is_future = 1;

-- Duplicate suspects: findings folded into an existing event by fuzzy title match
CREATE TABLE IF NOT EXISTS duplicate_suspects (
    suspect_id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER NOT NULL,
    event_id INTEGER NOT NULL,
    title TEXT NOT NULL,
    date_iso TEXT,
    similarity REAL NOT NULL DEFAULT 0, -- title similarity to the matched event
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (page_id) REFERENCES tracked_pages(page_id) ON DELETE CASCADE,
    FOREIGN KEY (event_id) REFERENCES events(event_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_suspects_event ON duplicate_suspects(event_id);

-- Change log: append-only record of every significant change
CREATE TABLE IF NOT EXISTS changes_log (
    change_id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER NOT NULL,
    findings TEXT NOT NULL,          -- validated analysis as JSON
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (page_id) REFERENCES tracked_pages(page_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_changes_page ON changes_log(page_id);

-- Errors: page-local and run-level failures
CREATE TABLE IF NOT EXISTS errors (
    error_id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER,
    kind TEXT NOT NULL,              -- fetch, extract, rate_limit, persist, notify, discovery
    message TEXT NOT NULL,
    level TEXT NOT NULL DEFAULT 'error',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_errors_time ON errors(created_at);

-- Telemetry: one row per run
CREATE TABLE IF NOT EXISTS telemetry (
    telemetry_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    pages_checked INTEGER NOT NULL DEFAULT 0,
    changes_found INTEGER NOT NULL DEFAULT 0,
    extraction_calls INTEGER NOT NULL DEFAULT 0,
    notifications_sent INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_telemetry_created ON telemetry(created_at DESC);

-- Settings: key/value preferences
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Discovered URLs: related sites suggested from outbound links
CREATE TABLE IF NOT EXISTS discovered_urls (
    discovery_id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_page_id INTEGER NOT NULL,
    url TEXT NOT NULL UNIQUE,
    title TEXT,
    reason TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (source_page_id) REFERENCES tracked_pages(page_id) ON DELETE CASCADE
);
`
