// Package student contains all HTTP handlers related to the Student resource.
//
// HANDLER PATTERN USED HERE — THE CLOSURE / FACTORY PATTERN:
// ────────────────────────────────────────────────────────────
// Go's router expects handler functions with the signature:
//
//	func(http.ResponseWriter, *http.Request)
//
// To inject dependencies we use a factory function that accepts them
// (the store, validation rules) and returns a function with exactly that
// signature. The returned closure runs on every request:
//
//	router.HandleFunc("POST /students", student.New(store, rules))
//
// Every handler opens its own store connection and closes it on every
// path out, including errors.
package student

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aanand-mishra/student-records-api/internal/storage"
	"github.com/aanand-mishra/student-records-api/internal/types"
	"github.com/aanand-mishra/student-records-api/internal/utils/response"
)

// now is swapped in tests to get predictable ids.
var now = time.Now

// ─────────────────────────────────────────────────────────────────────────────
// New handles POST /students
// Creates a new student from the request body.
//
// Request body (JSON or form):
//
//	{ "firstName": "Ann", "lastName": "Lee", "gpa": 3.5, "enrolled": "Yes" }
//
// Success response (201 Created):
//
//	{ "_id": 1700000000000, "message": "successfully created" }
//
// Error responses:
//
//	400 Bad Request  — bad body, missing names, or the name pair already exists
//	500 Internal     — database error
//
// ─────────────────────────────────────────────────────────────────────────────
func New(store storage.Storage, rules Rules) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		slog.Info("creating a student")

		in, ok := readInput(w, r, rules)
		if !ok {
			return
		}

		// The id is the creation time in milliseconds.
		student := in.Student(now().UnixMilli())

		conn, ok := open(ctx, w, store)
		if !ok {
			return
		}
		defer closeConn(ctx, conn)

		// Duplicate check: same first and last name, ignoring case.
		_, err := conn.FindStudentByName(ctx, student.FirstName, student.LastName)
		switch {
		case err == nil:
			slog.Info("duplicate student rejected",
				slog.String("firstName", student.FirstName),
				slog.String("lastName", student.LastName))
			response.WriteJSON(w, http.StatusBadRequest,
				response.DuplicateError(student.FirstName, student.LastName))
			return
		case !errors.Is(err, storage.ErrNotFound):
			slog.Error("error checking for duplicate student", slog.String("error", err.Error()))
			response.WriteMessage(w, http.StatusInternalServerError, response.MsgCannotFetch)
			return
		}

		// The unique index catches a concurrent create that slipped past
		// the lookup above.
		err = conn.CreateStudent(ctx, student)
		if errors.Is(err, storage.ErrDuplicate) {
			slog.Info("duplicate student rejected by store",
				slog.String("firstName", student.FirstName),
				slog.String("lastName", student.LastName))
			response.WriteJSON(w, http.StatusBadRequest,
				response.DuplicateError(student.FirstName, student.LastName))
			return
		}
		if err != nil {
			slog.Error("error creating student", slog.String("error", err.Error()))
			response.WriteMessage(w, http.StatusInternalServerError, response.MsgCannotInsert)
			return
		}

		slog.Info("student created", slog.Int64("id", student.ID))
		response.WriteJSON(w, http.StatusCreated,
			response.Created{ID: student.ID, Message: response.MsgCreated})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// GetByID handles GET /students/{id}
//
// Success response (200 OK): the full record
//
//	{ "_id": 1700000000000, "firstName": "Ann", "lastName": "Lee", "gpa": 3.5, "enrolled": "Yes" }
//
// Error responses:
//
//	404 Not Found    — { "_id": ..., "status": 404, "message": "error - resource not found" }
//	500 Internal     — database error
//
// ─────────────────────────────────────────────────────────────────────────────
func GetByID(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		raw := r.PathValue("id")
		slog.Info("getting a student", slog.String("id", raw))

		id, ok := types.ParseID(raw)
		if !ok {
			// No record can have it.
			writeUnknownID(w, raw)
			return
		}

		conn, ok := open(ctx, w, store)
		if !ok {
			return
		}
		defer closeConn(ctx, conn)

		student, err := conn.GetStudentByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			response.WriteStatus(w, http.StatusNotFound, id, response.MsgNotFound)
			return
		}
		if err != nil {
			slog.Error("error getting student",
				slog.Int64("id", id),
				slog.String("error", err.Error()))
			response.WriteMessage(w, http.StatusInternalServerError, response.MsgCannotFetch)
			return
		}

		response.WriteJSON(w, http.StatusOK, student)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Search handles GET /students?firstName=..&lastName=..
// Both parameters are optional; each matches the start of the name,
// ignoring case. No parameters returns every student.
//
// Success response (200 OK): a JSON array of records, or
//
//	{ "message": "No results found." }
//
// when nothing matches.
// ─────────────────────────────────────────────────────────────────────────────
func Search(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q := r.URL.Query()
		firstName, lastName := q.Get("firstName"), q.Get("lastName")

		slog.Info("searching students",
			slog.String("firstName", firstName),
			slog.String("lastName", lastName))

		conn, ok := open(ctx, w, store)
		if !ok {
			return
		}
		defer closeConn(ctx, conn)

		students, err := conn.SearchStudents(ctx, firstName, lastName)
		if err != nil {
			slog.Error("error searching students", slog.String("error", err.Error()))
			response.WriteMessage(w, http.StatusInternalServerError, response.MsgCannotSearch)
			return
		}

		if len(students) == 0 {
			response.WriteMessage(w, http.StatusOK, response.MsgNoResults)
			return
		}

		response.WriteJSON(w, http.StatusOK, students)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Update handles PUT /students/{id}
// Replaces ALL four fields of an existing student; there is no partial
// update and no duplicate-name lookup.
//
// Success response (201 Created):
//
//	{ "_id": 1700000000000, "status": 201, "message": "successfully updated" }
//
// Error responses:
//
//	400 Bad Request  — bad body or missing names
//	404 Not Found    — no student with that id
//	500 Internal     — database error
//
// ─────────────────────────────────────────────────────────────────────────────
func Update(store storage.Storage, rules Rules) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		raw := r.PathValue("id")
		slog.Info("updating a student", slog.String("id", raw))

		id, ok := types.ParseID(raw)
		if !ok {
			writeUnknownID(w, raw)
			return
		}

		in, ok := readInput(w, r, rules)
		if !ok {
			return
		}
		student := in.Student(id)

		conn, ok := open(ctx, w, store)
		if !ok {
			return
		}
		defer closeConn(ctx, conn)

		err := conn.UpdateStudentByID(ctx, id, student)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			response.WriteStatus(w, http.StatusNotFound, id, response.MsgNotFound)
			return
		case errors.Is(err, storage.ErrDuplicate):
			response.WriteJSON(w, http.StatusBadRequest,
				response.DuplicateError(student.FirstName, student.LastName))
			return
		case err != nil:
			slog.Error("error updating student",
				slog.Int64("id", id),
				slog.String("error", err.Error()))
			response.WriteMessage(w, http.StatusInternalServerError, response.MsgCannotUpdate)
			return
		}

		slog.Info("student updated", slog.Int64("id", id))
		response.WriteStatus(w, http.StatusCreated, id, response.MsgUpdated)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Delete handles DELETE /students/{id}
// Permanently removes a student record from the database.
//
// Success response (200 OK):
//
//	{ "_id": 1700000000000, "status": 200, "message": "record deleted" }
//
// ─────────────────────────────────────────────────────────────────────────────
func Delete(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		raw := r.PathValue("id")
		slog.Info("deleting a student", slog.String("id", raw))

		id, ok := types.ParseID(raw)
		if !ok {
			writeUnknownID(w, raw)
			return
		}

		conn, ok := open(ctx, w, store)
		if !ok {
			return
		}
		defer closeConn(ctx, conn)

		err := conn.DeleteStudentByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			response.WriteStatus(w, http.StatusNotFound, id, response.MsgNotFound)
			return
		}
		if err != nil {
			slog.Error("error deleting student",
				slog.Int64("id", id),
				slog.String("error", err.Error()))
			response.WriteMessage(w, http.StatusInternalServerError, response.MsgCannotDelete)
			return
		}

		slog.Info("student deleted", slog.Int64("id", id))
		response.WriteStatus(w, http.StatusOK, id, response.MsgDeleted)
	}
}

// writeUnknownID answers 404 for a path id that cannot name a stored
// record, echoing whatever number it reads as (null when none).
func writeUnknownID(w http.ResponseWriter, raw string) {
	var echo any
	if v, ok := types.IDValue(raw); ok {
		echo = v
	}
	response.WriteStatus(w, http.StatusNotFound, echo, response.MsgNotFound)
}

// open acquires the per-request connection, answering 500 itself when the
// store cannot be reached.
func open(ctx context.Context, w http.ResponseWriter, s storage.Storage) (storage.Conn, bool) {
	conn, err := s.Open(ctx)
	if err != nil {
		slog.Error("cannot connect to database", slog.String("error", err.Error()))
		response.WriteMessage(w, http.StatusInternalServerError, response.MsgCannotConnect)
		return nil, false
	}
	return conn, true
}

// closeConn releases the connection even if the client has gone away.
func closeConn(ctx context.Context, conn storage.Conn) {
	if err := conn.Close(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("error closing database connection", slog.String("error", err.Error()))
	}
}
