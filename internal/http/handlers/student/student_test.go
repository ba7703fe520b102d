package student

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aanand-mishra/student-records-api/internal/storage"
	"github.com/aanand-mishra/student-records-api/internal/storage/sqlite"
	"github.com/aanand-mishra/student-records-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const annID = 1700000000000

// countingStore wraps a store and records how many connections were opened
// and closed.
type countingStore struct {
	storage.Storage
	opened, closed int
}

func (s *countingStore) Open(ctx context.Context) (storage.Conn, error) {
	c, err := s.Storage.Open(ctx)
	if err != nil {
		return nil, err
	}
	s.opened++
	return &countingConn{Conn: c, closed: &s.closed}, nil
}

type countingConn struct {
	storage.Conn
	closed *int
}

func (c *countingConn) Close(ctx context.Context) error {
	*c.closed++
	return c.Conn.Close(ctx)
}

// failingStore fails either on Open or on the operation named by failOn.
type failingStore struct {
	openErr error
	failOn  string
	closed  int
}

func (s *failingStore) Open(context.Context) (storage.Conn, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &failingConn{store: s}, nil
}

type failingConn struct {
	store *failingStore
}

var errBoom = errors.New("boom")

func (c *failingConn) fail(op string) error {
	if c.store.failOn == op {
		return errBoom
	}
	return nil
}

func (c *failingConn) FindStudentByName(context.Context, string, string) (types.Student, error) {
	if err := c.fail("find"); err != nil {
		return types.Student{}, err
	}
	return types.Student{}, storage.ErrNotFound
}

func (c *failingConn) CreateStudent(context.Context, types.Student) error {
	return c.fail("create")
}

func (c *failingConn) GetStudentByID(context.Context, int64) (types.Student, error) {
	return types.Student{}, c.fail("get")
}

func (c *failingConn) SearchStudents(context.Context, string, string) ([]types.Student, error) {
	return nil, c.fail("search")
}

func (c *failingConn) UpdateStudentByID(context.Context, int64, types.Student) error {
	return c.fail("update")
}

func (c *failingConn) DeleteStudentByID(context.Context, int64) error {
	return c.fail("delete")
}

func (c *failingConn) Close(context.Context) error {
	c.store.closed++
	return nil
}

func newStore(t *testing.T) *countingStore {
	t.Helper()

	s, err := sqlite.New(sqlite.Options{Path: filepath.Join(t.TempDir(), "students.db")})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	return &countingStore{Storage: s}
}

func newMux(store storage.Storage, rules Rules) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /students", New(store, rules))
	mux.HandleFunc("GET /students", Search(store))
	mux.HandleFunc("GET /students/{id}", GetByID(store))
	mux.HandleFunc("PUT /students/{id}", Update(store, rules))
	mux.HandleFunc("DELETE /students/{id}", Delete(store))
	return mux
}

// fixClock makes ids predictable: annID, annID+1, ...
func fixClock(t *testing.T) {
	t.Helper()

	next := int64(annID)
	now = func() time.Time {
		ts := time.UnixMilli(next)
		next++
		return ts
	}
	t.Cleanup(func() { now = time.Now })
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func TestCreate(t *testing.T) {
	fixClock(t)
	store := newStore(t)
	mux := newMux(store, Rules{})

	rec := do(mux, http.MethodPost, "/students",
		`{"firstName":"Ann","lastName":"Lee","gpa":3.5,"enrolled":"Yes"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"_id":1700000000000,"message":"successfully created"}`, rec.Body.String())

	rec = do(mux, http.MethodGet, "/students/1700000000000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"_id":1700000000000,"firstName":"Ann","lastName":"Lee","gpa":3.5,"enrolled":"Yes"}`,
		rec.Body.String())

	t.Run("DuplicateIgnoresCase", func(t *testing.T) {
		for _, body := range []string{
			`{"firstName":"Ann","lastName":"Lee","gpa":2.0}`,
			`{"firstName":"ANN","lastName":"lee"}`,
		} {
			rec := do(mux, http.MethodPost, "/students", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error - duplicate found for ")
		}

		rec := do(mux, http.MethodPost, "/students", `{"firstName":"ann","lastName":"LEE"}`)
		assert.JSONEq(t, `{"message":"error - duplicate found for ann LEE"}`, rec.Body.String())
	})

	t.Run("GPAAsString", func(t *testing.T) {
		rec := do(mux, http.MethodPost, "/students", `{"firstName":"Bo","lastName":"Ray","gpa":"3.2 points"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var created struct {
			ID int64 `json:"_id"`
		}
		decode(t, rec, &created)

		rec = do(mux, http.MethodGet, "/students/"+itoa(created.ID), "")
		assert.JSONEq(t,
			`{"_id":`+itoa(created.ID)+`,"firstName":"Bo","lastName":"Ray","gpa":3.2}`,
			rec.Body.String())
	})

	t.Run("UnparseableGPA", func(t *testing.T) {
		rec := do(mux, http.MethodPost, "/students", `{"firstName":"Cy","lastName":"Nan","gpa":"abc"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var created struct {
			ID int64 `json:"_id"`
		}
		decode(t, rec, &created)

		rec = do(mux, http.MethodGet, "/students/"+itoa(created.ID), "")
		assert.JSONEq(t,
			`{"_id":`+itoa(created.ID)+`,"firstName":"Cy","lastName":"Nan","gpa":null}`,
			rec.Body.String())
	})

	t.Run("Form", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/students",
			strings.NewReader("firstName=Di&lastName=Fo&gpa=2.5&enrolled=No"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = do(mux, http.MethodGet, "/students?firstName=di", "")
		assert.JSONEq(t,
			`[{"_id":1700000000006,"firstName":"Di","lastName":"Fo","gpa":2.5,"enrolled":"No"}]`,
			rec.Body.String())
	})

	t.Run("MissingNames", func(t *testing.T) {
		rec := do(mux, http.MethodPost, "/students", `{"gpa":3.0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t,
			`{"message":"error - field firstName is required, field lastName is required"}`,
			rec.Body.String())

		rec = do(mux, http.MethodPost, "/students", `{"firstName":"","lastName":"Lee"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"message":"error - field firstName is required"}`, rec.Body.String())
	})

	t.Run("BadBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/students", http.NoBody)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"message":"error - invalid request body: request body is empty"}`, rec.Body.String())

		rec = do(mux, http.MethodPost, "/students", `{"firstName":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "error - invalid request body")
	})

	assert.Equal(t, store.opened, store.closed)
}

func TestCreateNonASCIIDuplicate(t *testing.T) {
	fixClock(t)
	store := newStore(t)
	mux := newMux(store, Rules{})

	rec := do(mux, http.MethodPost, "/students", `{"firstName":"Émile","lastName":"Zola","gpa":3.1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(mux, http.MethodPost, "/students", `{"firstName":"émile","lastName":"ZOLA"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"error - duplicate found for émile ZOLA"}`, rec.Body.String())

	rec = do(mux, http.MethodGet, "/students?firstName=%C3%A9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`[{"_id":1700000000000,"firstName":"Émile","lastName":"Zola","gpa":3.1}]`,
		rec.Body.String())
}

func TestSearch(t *testing.T) {
	fixClock(t)
	store := newStore(t)
	mux := newMux(store, Rules{})

	rec := do(mux, http.MethodGet, "/students", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"No results found."}`, rec.Body.String())

	for _, body := range []string{
		`{"firstName":"Ann","lastName":"Lee","gpa":3.5}`,
		`{"firstName":"Anna","lastName":"Smith","gpa":3.0}`,
		`{"firstName":"Bob","lastName":"Lee","gpa":2.0}`,
		`{"firstName":"A.n","lastName":"Dot","gpa":1.0}`,
	} {
		require.Equal(t, http.StatusCreated, do(mux, http.MethodPost, "/students", body).Code)
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"All", "", []string{"Ann", "Anna", "Bob", "A.n"}},
		{"FirstNamePrefix", "?firstName=an", []string{"Ann", "Anna"}},
		{"LastNamePrefix", "?lastName=LEE", []string{"Ann", "Bob"}},
		{"Both", "?firstName=b&lastName=l", []string{"Bob"}},
		{"PrefixIsLiteral", "?firstName=A.", []string{"A.n"}},
		{"EmptyParam", "?firstName=&lastName=", []string{"Ann", "Anna", "Bob", "A.n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(mux, http.MethodGet, "/students"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var got []types.Student
			decode(t, rec, &got)

			names := make([]string, 0, len(got))
			for _, s := range got {
				names = append(names, s.FirstName)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	t.Run("NoResults", func(t *testing.T) {
		rec := do(mux, http.MethodGet, "/students?firstName=zz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message":"No results found."}`, rec.Body.String())
	})

	assert.Equal(t, store.opened, store.closed)
}

func TestGetByID(t *testing.T) {
	store := newStore(t)
	mux := newMux(store, Rules{})

	rec := do(mux, http.MethodGet, "/students/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"_id":42,"status":404,"message":"error - resource not found"}`, rec.Body.String())

	rec = do(mux, http.MethodGet, "/students/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"_id":null,"status":404,"message":"error - resource not found"}`, rec.Body.String())

	// too large for any stored id; echoed the way parseInt reads it
	rec = do(mux, http.MethodGet, "/students/99999999999999999999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t,
		`{"_id":100000000000000000000,"status":404,"message":"error - resource not found"}`+"\n",
		rec.Body.String())

	rec = do(mux, http.MethodDelete, "/students/99999999999999999999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"_id":1e20,"status":404,"message":"error - resource not found"}`, rec.Body.String())

	// non-numeric and oversized ids never reach the store
	assert.Equal(t, 1, store.opened)
	assert.Equal(t, 1, store.closed)
}

func TestUpdate(t *testing.T) {
	fixClock(t)
	store := newStore(t)
	mux := newMux(store, Rules{})

	require.Equal(t, http.StatusCreated,
		do(mux, http.MethodPost, "/students", `{"firstName":"Ann","lastName":"Lee","gpa":3.5,"enrolled":"Yes"}`).Code)
	require.Equal(t, http.StatusCreated,
		do(mux, http.MethodPost, "/students", `{"firstName":"Bob","lastName":"Ray","gpa":2.0}`).Code)

	rec := do(mux, http.MethodPut, "/students/1700000000000",
		`{"firstName":"Ann","lastName":"Lee-Park","gpa":3.9}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"_id":1700000000000,"status":201,"message":"successfully updated"}`, rec.Body.String())

	// every field is replaced, so the omitted enrollment is gone
	rec = do(mux, http.MethodGet, "/students/1700000000000", "")
	assert.JSONEq(t,
		`{"_id":1700000000000,"firstName":"Ann","lastName":"Lee-Park","gpa":3.9}`,
		rec.Body.String())

	t.Run("SameValues", func(t *testing.T) {
		rec := do(mux, http.MethodPut, "/students/1700000000000",
			`{"firstName":"Ann","lastName":"Lee-Park","gpa":3.9}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("NotFound", func(t *testing.T) {
		rec := do(mux, http.MethodPut, "/students/7", `{"firstName":"X","lastName":"Y"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"_id":7,"status":404,"message":"error - resource not found"}`, rec.Body.String())

		rec = do(mux, http.MethodPut, "/students/nope", `{"firstName":"X","lastName":"Y"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"_id":null,"status":404,"message":"error - resource not found"}`, rec.Body.String())
	})

	t.Run("MissingNames", func(t *testing.T) {
		rec := do(mux, http.MethodPut, "/students/1700000000000", `{"firstName":"Ann"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"message":"error - field lastName is required"}`, rec.Body.String())
	})

	t.Run("TakesAnotherName", func(t *testing.T) {
		rec := do(mux, http.MethodPut, "/students/1700000000000", `{"firstName":"bob","lastName":"ray"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"message":"error - duplicate found for bob ray"}`, rec.Body.String())
	})

	assert.Equal(t, store.opened, store.closed)
}

func TestDelete(t *testing.T) {
	fixClock(t)
	store := newStore(t)
	mux := newMux(store, Rules{})

	require.Equal(t, http.StatusCreated,
		do(mux, http.MethodPost, "/students", `{"firstName":"Ann","lastName":"Lee"}`).Code)

	rec := do(mux, http.MethodDelete, "/students/1700000000000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"_id":1700000000000,"status":200,"message":"record deleted"}`, rec.Body.String())

	rec = do(mux, http.MethodDelete, "/students/1700000000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"_id":1700000000000,"status":404,"message":"error - resource not found"}`, rec.Body.String())

	rec = do(mux, http.MethodGet, "/students/1700000000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the name is free again
	rec = do(mux, http.MethodPost, "/students", `{"firstName":"ann","lastName":"lee"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, store.opened, store.closed)
}

func TestStrictRules(t *testing.T) {
	fixClock(t)
	store := newStore(t)
	mux := newMux(store, Rules{
		Strict:         true,
		MinGPA:         0,
		MaxGPA:         4,
		EnrolledValues: []string{"Yes", "No"},
	})

	rec := do(mux, http.MethodPost, "/students",
		`{"firstName":"Ann","lastName":"Lee","gpa":5,"enrolled":"Maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t,
		`{"message":"error - field gpa must be at most 4, field enrolled must be one of [Yes No]"}`,
		rec.Body.String())

	rec = do(mux, http.MethodPost, "/students", `{"firstName":"Ann","lastName":"Lee","gpa":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t,
		`{"message":"error - field gpa must be at least 0, field enrolled is required"}`,
		rec.Body.String())

	rec = do(mux, http.MethodPost, "/students",
		`{"firstName":"Ann","lastName":"Lee","gpa":"3.5","enrolled":"Yes"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// rejected input never opens a connection
	assert.Equal(t, 1, store.opened)
	assert.Equal(t, 1, store.closed)
}

func TestStoreFailures(t *testing.T) {
	const body = `{"firstName":"Ann","lastName":"Lee"}`

	tests := []struct {
		name    string
		openErr error
		failOn  string
		method  string
		target  string
		body    string
		want    string
	}{
		{"CreateConnect", errBoom, "", http.MethodPost, "/students", body, "cannot connect to database"},
		{"GetConnect", errBoom, "", http.MethodGet, "/students/1", "", "cannot connect to database"},
		{"SearchConnect", errBoom, "", http.MethodGet, "/students", "", "cannot connect to database"},
		{"UpdateConnect", errBoom, "", http.MethodPut, "/students/1", body, "cannot connect to database"},
		{"DeleteConnect", errBoom, "", http.MethodDelete, "/students/1", "", "cannot connect to database"},
		{"DuplicateLookup", nil, "find", http.MethodPost, "/students", body, "cannot fetch"},
		{"Insert", nil, "create", http.MethodPost, "/students", body, "cannot insert"},
		{"Get", nil, "get", http.MethodGet, "/students/1", "", "cannot fetch"},
		{"Search", nil, "search", http.MethodGet, "/students?firstName=a", "", "cannot search"},
		{"Update", nil, "update", http.MethodPut, "/students/1", body, "cannot update"},
		{"Delete", nil, "delete", http.MethodDelete, "/students/1", "", "cannot delete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &failingStore{openErr: tt.openErr, failOn: tt.failOn}
			rec := do(newMux(store, Rules{}), tt.method, tt.target, tt.body)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t,
				`{"message":"error - internal server error: `+tt.want+`"}`,
				rec.Body.String())

			if tt.openErr == nil {
				assert.Equal(t, 1, store.closed)
			} else {
				assert.Zero(t, store.closed)
			}
		})
	}
}
