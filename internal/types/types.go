// Package types holds all shared data structures (models) used across
// the application. Keeping them in one place prevents import cycles —
// handlers, storage, and utils can all import types without depending
// on each other.
package types

import (
	"encoding/json"
	"math"
	"strconv"
)

// Student represents a student record in our system.
//
// Struct tags serve two purposes here:
//
//  1. json:"..." — the shape clients see. The primary key is exposed as
//     "_id" so the JSON matches the document stored in the database.
//
//  2. bson:"..." — the field names inside the MongoDB document.
//
// Enrolled is a pointer because "absent" and "empty string" are different
// things to the client: a record created without an enrollment value keeps
// no value at all rather than "".
type Student struct {
	ID        int64   `json:"_id"                bson:"_id"`
	FirstName string  `json:"firstName"          bson:"firstName"`
	LastName  string  `json:"lastName"           bson:"lastName"`
	GPA       GPA     `json:"gpa"                bson:"gpa"`
	Enrolled  *string `json:"enrolled,omitempty" bson:"enrolled,omitempty"`
}

// GPA is a grade point average. Any float is accepted, including NaN,
// which is what unparseable input turns into.
type GPA float64

// MarshalJSON renders NaN and ±Inf as null. encoding/json refuses to encode
// them, and null is what browsers produce for the same values.
func (g GPA) MarshalJSON() ([]byte, error) {
	f := float64(g)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON is the inverse of MarshalJSON: null becomes NaN.
func (g *GPA) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*g = GPA(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*g = GPA(f)
	return nil
}

// StudentInput is the request body accepted by create and update.
//
// GPA is kept raw because browsers send form values as strings ("3.5")
// while API clients send numbers (3.5); ParseGPA handles both.
type StudentInput struct {
	FirstName string          `json:"firstName" validate:"required"`
	LastName  string          `json:"lastName"  validate:"required"`
	GPA       json.RawMessage `json:"gpa"`
	Enrolled  *string         `json:"enrolled"`
}

// Student converts the input into a record with the given id.
func (in StudentInput) Student(id int64) Student {
	return Student{
		ID:        id,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		GPA:       GPA(ParseGPA(in.GPA)),
		Enrolled:  in.Enrolled,
	}
}

// StringGPA wraps a plain string (e.g. a form value) so it can be stored in
// StudentInput.GPA.
func StringGPA(s string) json.RawMessage {
	return json.RawMessage(strconv.Quote(s))
}
