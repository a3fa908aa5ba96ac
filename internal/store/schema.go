package store

const Schema = `
CREATE TABLE IF NOT EXISTS downloads (
	track_id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	title TEXT NOT NULL,
	artist TEXT,
	artwork_url TEXT,
	file_path TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	format TEXT,
	downloaded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_downloads_source ON downloads(source);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
