package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// attendance and assignments deliberately carry no foreign key to classes:
// deleting a class leaves them in place.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	email             TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL,
	role              TEXT NOT NULL,
	enrollment_number TEXT UNIQUE,
	staff_id          TEXT UNIQUE,
	department        TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	dob               TEXT NOT NULL DEFAULT '',
	gender            TEXT NOT NULL DEFAULT '',
	details           JSONB NOT NULL DEFAULT '{}'::jsonb,
	password_hash     BYTEA,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS classes (
	class_id    TEXT PRIMARY KEY,
	class_name  TEXT NOT NULL,
	department  TEXT NOT NULL,
	semester    INT NOT NULL DEFAULT 0,
	capacity    INT NOT NULL DEFAULT 0,
	room_number TEXT NOT NULL DEFAULT '',
	subjects    JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS class_students (
	seq               BIGSERIAL,
	class_id          TEXT NOT NULL REFERENCES classes(class_id) ON DELETE CASCADE,
	enrollment_number TEXT NOT NULL,
	added_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (class_id, enrollment_number)
);
CREATE INDEX IF NOT EXISTS class_students_enrollment_idx ON class_students (enrollment_number);

CREATE TABLE IF NOT EXISTS class_staff (
	seq      BIGSERIAL,
	class_id TEXT NOT NULL REFERENCES classes(class_id) ON DELETE CASCADE,
	staff_id TEXT NOT NULL,
	added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (class_id, staff_id)
);
CREATE INDEX IF NOT EXISTS class_staff_staff_idx ON class_staff (staff_id);

CREATE TABLE IF NOT EXISTS attendance (
	class_id   TEXT NOT NULL,
	date       DATE NOT NULL,
	records    JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (class_id, date)
);

CREATE TABLE IF NOT EXISTS attendance_revisions (
	id           UUID PRIMARY KEY,
	class_id     TEXT NOT NULL,
	date         DATE NOT NULL,
	records      JSONB NOT NULL,
	submitted_by TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS attendance_revisions_class_date_idx ON attendance_revisions (class_id, date);

CREATE TABLE IF NOT EXISTS assignments (
	id              UUID PRIMARY KEY,
	class_id        TEXT NOT NULL,
	assignment_name TEXT NOT NULL,
	due_date        DATE NOT NULL,
	questions       JSONB NOT NULL DEFAULT '[]'::jsonb,
	archived        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS assignments_class_idx ON assignments (class_id);

CREATE TABLE IF NOT EXISTS submissions (
	id            UUID PRIMARY KEY,
	assignment_id UUID NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
	student_id    TEXT NOT NULL,
	answers       JSONB NOT NULL DEFAULT '[]'::jsonb,
	file_path     TEXT NOT NULL DEFAULT '',
	file_url      TEXT NOT NULL DEFAULT '',
	file_type     TEXT NOT NULL DEFAULT '',
	file_size     BIGINT NOT NULL DEFAULT 0,
	graded        BOOLEAN NOT NULL DEFAULT FALSE,
	submitted_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (assignment_id, student_id)
);
`

// Migrate creates every table the service needs. It is safe to run more
// than once.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return errors.Wrap(err, "apply schema")
}
