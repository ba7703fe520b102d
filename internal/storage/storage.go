// Package storage defines the Storage interface — a contract that any
// database backend must satisfy to work with this application.
//
// Handlers (HTTP layer) should not know or care which database they are
// talking to. Two backends exist: storage/mongodb (the document database used
// in production) and storage/sqlite (an embedded file, handy locally and in
// tests). main.go picks one from the config.
//
// Every request works on its own connection: Open acquires it, Close
// releases it. Callers must Close on every path, including errors.
package storage

import (
	"context"
	"errors"

	"github.com/aanand-mishra/student-records-api/internal/types"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("student not found")

	// ErrDuplicate is returned by CreateStudent when the store itself
	// rejects the (firstName, lastName) pair as already taken.
	ErrDuplicate = errors.New("student with the same name already exists")
)

// Storage hands out per-request connections. Backends holding process-wide
// resources also implement io.Closer.
type Storage interface {
	Open(ctx context.Context) (Conn, error)
}

// Conn is one open connection to the record store.
type Conn interface {
	// FindStudentByName returns a record whose first and last name equal
	// the given ones ignoring letter case, or ErrNotFound. Names are
	// compared as literal text.
	FindStudentByName(ctx context.Context, firstName, lastName string) (types.Student, error)

	// CreateStudent inserts a new record. It returns ErrDuplicate if a
	// store-level uniqueness rule on the name pair rejects it.
	CreateStudent(ctx context.Context, student types.Student) error

	// GetStudentByID fetches a single student, or ErrNotFound.
	GetStudentByID(ctx context.Context, id int64) (types.Student, error)

	// SearchStudents returns every record whose first and last names start
	// with the given prefixes, ignoring case. Empty prefixes match all.
	// The result is empty (not nil) when nothing matches.
	SearchStudents(ctx context.Context, firstNamePrefix, lastNamePrefix string) ([]types.Student, error)

	// UpdateStudentByID overwrites firstName, lastName, gpa and enrolled
	// of an existing record, or returns ErrNotFound. Like CreateStudent it
	// returns ErrDuplicate when a store uniqueness rule rejects the names.
	UpdateStudentByID(ctx context.Context, id int64, student types.Student) error

	// DeleteStudentByID removes a record, or returns ErrNotFound.
	DeleteStudentByID(ctx context.Context, id int64) error

	Close(ctx context.Context) error
}
