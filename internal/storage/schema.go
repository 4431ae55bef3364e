package storage

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		credits INTEGER NOT NULL DEFAULT 10,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS consult_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		user_id INTEGER NOT NULL,
		created_by TEXT NOT NULL,
		notes TEXT NOT NULL,
		selected_doctor TEXT NOT NULL,
		all_suggestions TEXT NOT NULL,
		conversation TEXT,
		report TEXT,
		status TEXT NOT NULL DEFAULT 'not_started',
		created_on DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_consult_sessions_user ON consult_sessions(user_id, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_consult_sessions_status ON consult_sessions(status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS apiKeys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		api_key TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(user_id, provider),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
	`CREATE TABLE IF NOT EXISTS health_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		note TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(session_id) REFERENCES consult_sessions(session_id) ON DELETE CASCADE,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_health_notes_session ON health_notes(session_id)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		username VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		credits INT NOT NULL DEFAULT 10,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS consult_sessions (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		session_id VARCHAR(64) NOT NULL,
		user_id BIGINT UNSIGNED NOT NULL,
		created_by VARCHAR(255) NOT NULL,
		notes TEXT NOT NULL,
		selected_doctor TEXT NOT NULL,
		all_suggestions MEDIUMTEXT NOT NULL,
		conversation MEDIUMTEXT,
		report MEDIUMTEXT,
		status VARCHAR(32) NOT NULL DEFAULT 'not_started',
		created_on DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_consult_session (session_id),
		INDEX idx_consult_sessions_user (user_id, id),
		INDEX idx_consult_sessions_status (status, updated_at),
		CONSTRAINT fk_consult_sessions_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS apiKeys (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		user_id BIGINT UNSIGNED NOT NULL,
		provider VARCHAR(100) NOT NULL,
		api_key TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_user_provider (user_id, provider),
		CONSTRAINT fk_apikeys_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		token VARCHAR(255) NOT NULL PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		INDEX idx_user_tokens_user (user_id),
		CONSTRAINT fk_user_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS health_notes (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		session_id VARCHAR(64) NOT NULL,
		user_id BIGINT UNSIGNED NOT NULL,
		note TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_health_notes_session (session_id),
		CONSTRAINT fk_health_notes_session FOREIGN KEY (session_id) REFERENCES consult_sessions(session_id) ON DELETE CASCADE,
		CONSTRAINT fk_health_notes_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		credits INTEGER NOT NULL DEFAULT 10,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS consult_sessions (
		id BIGSERIAL PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL UNIQUE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_by VARCHAR(255) NOT NULL,
		notes TEXT NOT NULL,
		selected_doctor TEXT NOT NULL,
		all_suggestions TEXT NOT NULL,
		conversation TEXT,
		report TEXT,
		status VARCHAR(32) NOT NULL DEFAULT 'not_started',
		created_on TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_consult_sessions_user ON consult_sessions(user_id, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_consult_sessions_status ON consult_sessions(status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS apiKeys (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		provider VARCHAR(100) NOT NULL,
		api_key TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(user_id, provider)
	)`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		token VARCHAR(255) PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
	`CREATE TABLE IF NOT EXISTS health_notes (
		id BIGSERIAL PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL REFERENCES consult_sessions(session_id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		note TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_health_notes_session ON health_notes(session_id)`,
}
