package storage

// schema is portable between PostgreSQL and SQLite. Timestamps are written
// by the application in UTC.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id              VARCHAR(64)  PRIMARY KEY,
		status          VARCHAR(16)  NOT NULL,
		user_id         VARCHAR(64)  NOT NULL,
		course_id       VARCHAR(64)  NOT NULL,
		function_name   VARCHAR(128) NOT NULL,
		description     TEXT         NOT NULL,
		failed          BOOLEAN      NOT NULL DEFAULT FALSE,
		log             TEXT         NOT NULL DEFAULT '',
		result          TEXT         NOT NULL DEFAULT '',
		timeout_seconds INTEGER      NOT NULL DEFAULT 0,
		created_at      TIMESTAMP    NOT NULL,
		updated_at      TIMESTAMP    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_course_created ON jobs (course_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS assignments (
		id              VARCHAR(64)  PRIMARY KEY,
		course_id       VARCHAR(64)  NOT NULL,
		name            VARCHAR(255) NOT NULL,
		autograding_key VARCHAR(255) NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS backups (
		id            VARCHAR(64) PRIMARY KEY,
		assignment_id VARCHAR(64) NOT NULL,
		submitter_id  VARCHAR(64) NOT NULL,
		submitted     BOOLEAN     NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMP   NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backups_assignment ON backups (assignment_id, submitter_id)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		user_id   VARCHAR(64) NOT NULL,
		course_id VARCHAR(64) NOT NULL,
		role      VARCHAR(32) NOT NULL,
		PRIMARY KEY (user_id, course_id)
	)`,

	`CREATE TABLE IF NOT EXISTS scores (
		id            VARCHAR(64)      PRIMARY KEY,
		backup_id     VARCHAR(64)      NOT NULL,
		assignment_id VARCHAR(64)      NOT NULL,
		user_id       VARCHAR(64)      NOT NULL,
		grader_id     VARCHAR(64)      NOT NULL,
		kind          VARCHAR(32)      NOT NULL,
		score         DOUBLE PRECISION NOT NULL,
		message       TEXT             NOT NULL DEFAULT '',
		public        BOOLEAN          NOT NULL DEFAULT TRUE,
		archived      BOOLEAN          NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMP        NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scores_backup_kind ON scores (backup_id, kind, archived)`,

	`CREATE TABLE IF NOT EXISTS grading_tasks (
		id            VARCHAR(64) PRIMARY KEY,
		assignment_id VARCHAR(64) NOT NULL,
		backup_id     VARCHAR(64) NOT NULL,
		grader_id     VARCHAR(64) NOT NULL,
		course_id     VARCHAR(64) NOT NULL,
		kind          VARCHAR(32) NOT NULL,
		score_id      VARCHAR(64) NULL,
		created_at    TIMESTAMP   NOT NULL,
		updated_at    TIMESTAMP   NOT NULL,
		UNIQUE (assignment_id, backup_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_grading_tasks_grader ON grading_tasks (assignment_id, grader_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS api_clients (
		client_id  VARCHAR(64)  PRIMARY KEY,
		name       VARCHAR(255) NOT NULL,
		user_id    VARCHAR(64)  NOT NULL,
		created_at TIMESTAMP    NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_tokens (
		id           VARCHAR(64) PRIMARY KEY,
		client_id    VARCHAR(64) NOT NULL,
		user_id      VARCHAR(64) NOT NULL,
		access_token TEXT        NOT NULL,
		scopes       TEXT        NOT NULL,
		expires_at   TIMESTAMP   NOT NULL,
		created_at   TIMESTAMP   NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_tokens_access_token ON api_tokens (access_token)`,
}
