package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	version int
	name    string
	up      string
}

const migration001Catalog = `
CREATE TABLE IF NOT EXISTS schools (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name VARCHAR(150) NOT NULL,
    code VARCHAR(30) NOT NULL,
    address TEXT,
    phone VARCHAR(40),
    email VARCHAR(150),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT schools_code_unique UNIQUE (tenant_id, code)
);

CREATE TABLE IF NOT EXISTS departments (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    school_id UUID NOT NULL REFERENCES schools(id),
    name VARCHAR(150) NOT NULL,
    code VARCHAR(30),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS academic_years (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    school_id UUID NOT NULL REFERENCES schools(id),
    name VARCHAR(60) NOT NULL,
    code VARCHAR(30),
    start_date DATE NOT NULL,
    end_date DATE NOT NULL,
    state VARCHAR(10) NOT NULL DEFAULT 'draft',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT academic_years_date_check CHECK (end_date > start_date),
    CONSTRAINT academic_years_state_check CHECK (state IN ('draft', 'active', 'closed')),
    CONSTRAINT academic_years_name_unique UNIQUE (tenant_id, school_id, name)
);

CREATE TABLE IF NOT EXISTS classes (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name VARCHAR(100) NOT NULL,
    code VARCHAR(30),
    department_id UUID NOT NULL REFERENCES departments(id),
    academic_year_id UUID NOT NULL REFERENCES academic_years(id),
    teacher_user_id TEXT,
    capacity INTEGER CHECK (capacity IS NULL OR capacity >= 0),
    gender VARCHAR(10) CHECK (gender IS NULL OR gender IN ('male', 'female')),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS courses (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name VARCHAR(150) NOT NULL,
    code VARCHAR(30),
    department_id UUID NOT NULL REFERENCES departments(id),
    teacher_user_id TEXT,
    product_ref TEXT,
    fee_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
    capacity INTEGER NOT NULL DEFAULT 0 CHECK (capacity >= 0),
    required BOOLEAN NOT NULL DEFAULT FALSE,
    credits INTEGER NOT NULL DEFAULT 0,
    duration_hours NUMERIC(8,2) NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS course_prerequisites (
    course_id UUID NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    prerequisite_id UUID NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    PRIMARY KEY (course_id, prerequisite_id),
    CONSTRAINT course_prerequisites_self CHECK (course_id <> prerequisite_id)
);
`

const migration002Students = `
CREATE TABLE IF NOT EXISTS students (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    party_id TEXT NOT NULL,
    code VARCHAR(40) NOT NULL,
    full_name VARCHAR(150) NOT NULL,
    gender VARCHAR(10),
    birth_date DATE,
    class_id UUID REFERENCES classes(id),
    state VARCHAR(12) NOT NULL DEFAULT 'draft',
    enrollment_date DATE,
    graduation_date DATE,
    suspension_reason TEXT,
    guardian_party_ids TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT students_code_unique UNIQUE (tenant_id, code),
    CONSTRAINT students_state_check CHECK (state IN ('draft', 'enrolled', 'transferred', 'graduated', 'suspended', 'dropped')),
    CONSTRAINT students_graduation_check CHECK (graduation_date IS NULL OR enrollment_date IS NULL OR graduation_date >= enrollment_date)
);

CREATE INDEX IF NOT EXISTS idx_students_class ON students(class_id);
CREATE INDEX IF NOT EXISTS idx_students_state ON students(tenant_id, state);
`

const migration003Enrollment = `
CREATE TABLE IF NOT EXISTS invoices (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    kind VARCHAR(10) NOT NULL DEFAULT 'invoice',
    payer_party_id TEXT NOT NULL,
    description TEXT NOT NULL,
    product_ref TEXT,
    quantity NUMERIC(10,2) NOT NULL DEFAULT 1,
    unit_price NUMERIC(12,2) NOT NULL,
    amount_total NUMERIC(12,2) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'unpaid',
    reversed_invoice_id UUID REFERENCES invoices(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT invoices_kind_check CHECK (kind IN ('invoice', 'refund')),
    CONSTRAINT invoices_status_check CHECK (status IN ('unpaid', 'partially_paid', 'paid'))
);

CREATE TABLE IF NOT EXISTS enrollments (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    student_id UUID NOT NULL REFERENCES students(id),
    course_id UUID NOT NULL REFERENCES courses(id),
    enrollment_date DATE NOT NULL DEFAULT CURRENT_DATE,
    state VARCHAR(10) NOT NULL DEFAULT 'draft',
    invoice_id UUID REFERENCES invoices(id),
    grade VARCHAR(2),
    score NUMERIC(5,2),
    completion_date DATE,
    cancellation_reason TEXT,
    notes TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT enrollments_unique UNIQUE (tenant_id, student_id, course_id),
    CONSTRAINT enrollments_score_check CHECK (score IS NULL OR (score >= 0 AND score <= 100)),
    CONSTRAINT enrollments_state_check CHECK (state IN ('draft', 'confirmed', 'enrolled', 'completed', 'cancelled', 'failed')),
    CONSTRAINT enrollments_dates_check CHECK (completion_date IS NULL OR completion_date >= enrollment_date)
);

CREATE INDEX IF NOT EXISTS idx_enrollments_course_state ON enrollments(course_id, state);
CREATE INDEX IF NOT EXISTS idx_enrollments_student_state ON enrollments(student_id, state);

CREATE TABLE IF NOT EXISTS attendance (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    student_id UUID NOT NULL REFERENCES students(id),
    class_id UUID NOT NULL REFERENCES classes(id),
    enrollment_id UUID REFERENCES enrollments(id) ON DELETE SET NULL,
    date DATE NOT NULL,
    state VARCHAR(10) NOT NULL DEFAULT 'present',
    check_in TIMESTAMPTZ,
    check_out TIMESTAMPTZ,
    teacher_user_id TEXT,
    notes TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT attendance_unique UNIQUE (tenant_id, student_id, class_id, date),
    CONSTRAINT attendance_state_check CHECK (state IN ('present', 'absent', 'late', 'excused')),
    CONSTRAINT attendance_times_check CHECK (check_in IS NULL OR check_out IS NULL OR check_out > check_in)
);

CREATE INDEX IF NOT EXISTS idx_attendance_enrollment ON attendance(enrollment_id);
CREATE INDEX IF NOT EXISTS idx_attendance_class_date ON attendance(class_id, date);

CREATE TABLE IF NOT EXISTS follow_ups (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    note TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var migrations = []migration{
	{version: 1, name: "catalog", up: migration001Catalog},
	{version: 2, name: "students", up: migration002Students},
	{version: 3, name: "enrollment", up: migration003Enrollment},
}

// Migrate applies pending schema migrations in order, each inside its own transaction.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	const ensure = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, ensure); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var applied []int
	if err := db.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range migrations {
		if done[m.version] {
			continue
		}
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %03d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %03d_%s: %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %03d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %03d: %w", m.version, err)
		}
	}
	return nil
}
