// Package sqlite provides a SQLite-backed implementation of the
// storage.Storage interface using Go's standard database/sql package.
//
// SQLite stores everything in a single file on disk, with no server to
// run, which makes it the backend of choice for local runs and tests. The
// production deployment uses storage/mongodb.
//
// The blank-imported driver registers itself with database/sql; we only
// reference it directly to inspect constraint errors.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aanand-mishra/student-records-api/internal/storage"
	"github.com/aanand-mishra/student-records-api/internal/types"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
)

// SQLite is the concrete implementation of storage.Storage.
// It holds a *sql.DB which is a connection pool managed by database/sql;
// Open checks a single connection out of it for the duration of a request.
type SQLite struct {
	Db *sql.DB
}

// Options configures New.
type Options struct {
	Path string

	// SkipUniqueIndex leaves out the unique index on the folded name pair.
	SkipUniqueIndex bool
}

// New opens the SQLite database at opts.Path, creates the students table
// (and the unique name index) if they do not already exist, and returns a
// ready-to-use *SQLite.
func New(opts Options) (*SQLite, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.New: open db: %w", err)
	}

	// Schema:
	//   id              — creation time in milliseconds, assigned by the caller
	//   first_name      — as sent by the client
	//   last_name       — as sent by the client
	//   first_name_fold — Unicode case-folded first_name, used for matching
	//   last_name_fold  — Unicode case-folded last_name, used for matching
	//   gpa             — any REAL; NaN is stored by SQLite as NULL
	//   enrolled        — free text, NULL when the client sent nothing
	//
	// NOCASE and LIKE only fold ASCII, hence the separate folded columns.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS students (
			id              INTEGER PRIMARY KEY,
			first_name      TEXT    NOT NULL,
			last_name       TEXT    NOT NULL,
			first_name_fold TEXT    NOT NULL,
			last_name_fold  TEXT    NOT NULL,
			gpa             REAL,
			enrolled        TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.New: create table: %w", err)
	}

	if !opts.SkipUniqueIndex {
		_, err = db.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS students_name_fold
			ON students (first_name_fold, last_name_fold)
		`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite.New: create name index: %w", err)
		}
	}

	return &SQLite{Db: db}, nil
}

// Open checks a dedicated connection out of the pool.
func (s *SQLite) Open(ctx context.Context) (storage.Conn, error) {
	c, err := s.Db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	return &conn{c: c}, nil
}

// Close closes the underlying pool. Call it once at shutdown.
func (s *SQLite) Close() error {
	return s.Db.Close()
}

type conn struct {
	c *sql.Conn
}

// Close returns the connection to the pool.
func (c *conn) Close(context.Context) error {
	return c.c.Close()
}

const selectColumns = "SELECT id, first_name, last_name, gpa, enrolled FROM students"

// FindStudentByName compares the folded columns with plain equality, so
// '%' and '_' in a name are ordinary characters.
func (c *conn) FindStudentByName(ctx context.Context, firstName, lastName string) (types.Student, error) {
	stmt, err := c.c.PrepareContext(ctx,
		selectColumns+" WHERE first_name_fold = ? AND last_name_fold = ? LIMIT 1",
	)
	if err != nil {
		return types.Student{}, fmt.Errorf("FindStudentByName: prepare: %w", err)
	}
	defer stmt.Close()

	student, err := scanStudent(stmt.QueryRowContext(ctx, fold(firstName), fold(lastName)))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Student{}, storage.ErrNotFound
	}
	if err != nil {
		return types.Student{}, fmt.Errorf("FindStudentByName: scan: %w", err)
	}

	return student, nil
}

func (c *conn) CreateStudent(ctx context.Context, student types.Student) error {
	stmt, err := c.c.PrepareContext(ctx,
		`INSERT INTO students (id, first_name, last_name, first_name_fold, last_name_fold, gpa, enrolled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("CreateStudent: prepare: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, student.ID, student.FirstName, student.LastName,
		fold(student.FirstName), fold(student.LastName),
		float64(student.GPA), nullString(student.Enrolled))
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("CreateStudent: exec: %w", err)
	}

	return nil
}

func (c *conn) GetStudentByID(ctx context.Context, id int64) (types.Student, error) {
	stmt, err := c.c.PrepareContext(ctx, selectColumns+" WHERE id = ? LIMIT 1")
	if err != nil {
		return types.Student{}, fmt.Errorf("GetStudentByID: prepare: %w", err)
	}
	defer stmt.Close()

	student, err := scanStudent(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Student{}, storage.ErrNotFound
	}
	if err != nil {
		return types.Student{}, fmt.Errorf("GetStudentByID: scan: %w", err)
	}

	return student, nil
}

// SearchStudents matches folded prefixes against the folded columns.
// Wildcards in the prefixes are escaped.
func (c *conn) SearchStudents(ctx context.Context, firstNamePrefix, lastNamePrefix string) ([]types.Student, error) {
	stmt, err := c.c.PrepareContext(ctx,
		selectColumns+` WHERE first_name_fold LIKE ? ESCAPE '\' AND last_name_fold LIKE ? ESCAPE '\' ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("SearchStudents: prepare: %w", err)
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, likePrefix(fold(firstNamePrefix)), likePrefix(fold(lastNamePrefix)))
	if err != nil {
		return nil, fmt.Errorf("SearchStudents: query: %w", err)
	}
	defer rows.Close()

	students := make([]types.Student, 0)
	for rows.Next() {
		student, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("SearchStudents: scan row: %w", err)
		}
		students = append(students, student)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SearchStudents: rows iteration: %w", err)
	}

	return students, nil
}

func (c *conn) UpdateStudentByID(ctx context.Context, id int64, student types.Student) error {
	stmt, err := c.c.PrepareContext(ctx,
		`UPDATE students
		 SET first_name = ?, last_name = ?, first_name_fold = ?, last_name_fold = ?, gpa = ?, enrolled = ?
		 WHERE id = ?`,
	)
	if err != nil {
		return fmt.Errorf("UpdateStudentByID: prepare: %w", err)
	}
	defer stmt.Close()

	// SQLite counts matched rows as changed even when the values are the
	// same, so zero really means "no such id".
	result, err := stmt.ExecContext(ctx, student.FirstName, student.LastName,
		fold(student.FirstName), fold(student.LastName),
		float64(student.GPA), nullString(student.Enrolled), id)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("UpdateStudentByID: exec: %w", err)
	}

	return checkAffected(result, "UpdateStudentByID")
}

func (c *conn) DeleteStudentByID(ctx context.Context, id int64) error {
	stmt, err := c.c.PrepareContext(ctx, "DELETE FROM students WHERE id = ?")
	if err != nil {
		return fmt.Errorf("DeleteStudentByID: prepare: %w", err)
	}
	defer stmt.Close()

	result, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("DeleteStudentByID: exec: %w", err)
	}

	return checkAffected(result, "DeleteStudentByID")
}

func checkAffected(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (types.Student, error) {
	var (
		student  types.Student
		gpa      sql.NullFloat64
		enrolled sql.NullString
	)

	if err := row.Scan(&student.ID, &student.FirstName, &student.LastName, &gpa, &enrolled); err != nil {
		return types.Student{}, err
	}

	student.GPA = types.GPA(math.NaN())
	if gpa.Valid {
		student.GPA = types.GPA(gpa.Float64)
	}
	if enrolled.Valid {
		student.Enrolled = &enrolled.String
	}

	return student, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fold returns the Unicode case-folded form of a name ("Émile" and "ÉMILE"
// both become "émile"). A Caser is stateful, so each call makes its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
