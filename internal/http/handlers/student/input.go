package student

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/aanand-mishra/student-records-api/internal/types"
	"github.com/aanand-mishra/student-records-api/internal/utils/response"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// validate is shared by all handlers; a *validator.Validate caches struct
// metadata and is safe for concurrent use. Field names in error messages
// come from the json tags so clients see "firstName", not "FirstName".
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Rules are the optional checks applied on top of the required names.
// With Strict off, GPA and enrollment are stored exactly as sent.
type Rules struct {
	Strict         bool
	MinGPA         float64
	MaxGPA         float64
	EnrolledValues []string
}

func (rules Rules) check(student types.Student) []string {
	if !rules.Strict {
		return nil
	}

	var problems []string

	gpaTag := fmt.Sprintf("gte=%v,lte=%v", rules.MinGPA, rules.MaxGPA)
	if err := validate.Var(float64(student.GPA), gpaTag); err != nil {
		problems = append(problems, describe("gpa", err)...)
	}

	enrolled := ""
	if student.Enrolled != nil {
		enrolled = *student.Enrolled
	}
	if err := validate.Var(enrolled, "required,oneof="+oneOfParam(rules.EnrolledValues)); err != nil {
		problems = append(problems, describe("enrolled", err)...)
	}

	return problems
}

// oneOfParam quotes values that contain spaces, which oneof would
// otherwise split.
func oneOfParam(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		if strings.ContainsAny(v, " \t") {
			v = "'" + v + "'"
		}
		quoted[i] = v
	}
	return strings.Join(quoted, " ")
}

func describe(field string, err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{fmt.Sprintf("field %s is invalid", field)}
	}

	out := make([]string, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, response.Describe(field, e))
	}
	return out
}

// readInput decodes and checks a create/update body. On failure it has
// already written the 400 response.
func readInput(w http.ResponseWriter, r *http.Request, rules Rules) (types.StudentInput, bool) {
	in, err := decodeInput(w, r)
	if err != nil {
		response.WriteJSON(w, http.StatusBadRequest, response.BadRequest(err))
		return in, false
	}

	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(verrs))
		} else {
			response.WriteJSON(w, http.StatusBadRequest, response.BadRequest(err))
		}
		return in, false
	}

	// Strict rules look at the parsed values, so build the record first;
	// the id is irrelevant here.
	if problems := rules.check(in.Student(0)); len(problems) > 0 {
		response.WriteJSON(w, http.StatusBadRequest, response.Errors(problems))
		return in, false
	}

	return in, true
}

// decodeInput accepts JSON (what API clients send) and urlencoded forms
// (what a plain HTML form posts).
func decodeInput(w http.ResponseWriter, r *http.Request) (types.StudentInput, error) {
	var in types.StudentInput
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return in, err
		}

		form := r.PostForm
		in.FirstName = form.Get("firstName")
		in.LastName = form.Get("lastName")
		if form.Has("gpa") {
			in.GPA = types.StringGPA(form.Get("gpa"))
		}
		if form.Has("enrolled") {
			enrolled := form.Get("enrolled")
			in.Enrolled = &enrolled
		}
		return in, nil
	}

	err := json.NewDecoder(r.Body).Decode(&in)
	if errors.Is(err, io.EOF) {
		return in, errors.New("request body is empty")
	}
	return in, err
}
