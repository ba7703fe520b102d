// Package response provides helpers for writing consistent JSON HTTP responses.
//
// Every handler in this application sends JSON back to the client.
// Rather than repeating the same three lines (set header, set status,
// encode JSON) in every handler, we centralise them here, together with
// the three body shapes the API uses:
//
//	{ "message": "..." }                            — Message
//	{ "_id": 1, "message": "..." }                  — Created
//	{ "_id": 1, "status": 404, "message": "..." }   — Status
package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Messages sent to clients. Internal errors never leak past these.
const (
	MsgCreated   = "successfully created"
	MsgUpdated   = "successfully updated"
	MsgDeleted   = "record deleted"
	MsgNotFound  = "error - resource not found"
	MsgNoResults = "No results found."

	MsgCannotConnect = "error - internal server error: cannot connect to database"
	MsgCannotFetch   = "error - internal server error: cannot fetch"
	MsgCannotInsert  = "error - internal server error: cannot insert"
	MsgCannotUpdate  = "error - internal server error: cannot update"
	MsgCannotDelete  = "error - internal server error: cannot delete"
	MsgCannotSearch  = "error - internal server error: cannot search"
)

// Message is the plain { "message": ... } body.
type Message struct {
	Message string `json:"message"`
}

// Created is returned when a record has been inserted.
type Created struct {
	ID      int64  `json:"_id"`
	Message string `json:"message"`
}

// Status echoes the record id together with the HTTP status.
// ID is usually an int64. A path id too large for int64 is echoed as the
// float64 it reads as, and ID is nil (encoded as null) when the path held
// no digits at all.
type Status struct {
	ID      any    `json:"_id"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON-encoded response with the given HTTP status code.
//
// IMPORTANT ORDER: Header() → WriteHeader() → body writes.
// Once WriteHeader is called (or the first Write), headers are locked.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteMessage writes { "message": msg }.
func WriteMessage(w http.ResponseWriter, status int, msg string) error {
	return WriteJSON(w, status, Message{Message: msg})
}

// WriteStatus writes a Status body whose "status" equals the HTTP status.
func WriteStatus(w http.ResponseWriter, status int, id any, msg string) error {
	return WriteJSON(w, status, Status{ID: id, Status: status, Message: msg})
}

// DuplicateError is the message for a create that clashes with an existing
// name pair.
func DuplicateError(firstName, lastName string) Message {
	return Message{Message: fmt.Sprintf("error - duplicate found for %s %s", firstName, lastName)}
}

// BadRequest wraps a decoding problem into a Message.
func BadRequest(err error) Message {
	return Message{Message: "error - invalid request body: " + err.Error()}
}

// ValidationError converts a slice of validator.FieldError values into
// a single human-readable Message.
//
// The go-playground/validator package returns one FieldError per failing
// struct field. We convert each to a plain English sentence and join them
// with ", " so the client sees a single descriptive error string.
//
// Example output:
//
//	{ "message": "error - field firstName is required, field lastName is required" }
func ValidationError(errs validator.ValidationErrors) Message {
	var errMessages []string
	for _, e := range errs {
		errMessages = append(errMessages, Describe(e.Field(), e))
	}
	return Errors(errMessages)
}

// Describe renders one failed rule as a sentence about field. The field
// name is passed separately because validator.Var checks carry none.
func Describe(field string, e validator.FieldError) string {
	switch e.ActualTag() {
	// "required" tag — field was missing or zero-valued
	case "required":
		return fmt.Sprintf("field %s is required", field)
	case "gte", "min":
		return fmt.Sprintf("field %s must be at least %s", field, e.Param())
	case "lte", "max":
		return fmt.Sprintf("field %s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("field %s must be one of [%s]", field, e.Param())
	// Catch-all for any other validation tag
	default:
		return fmt.Sprintf("field %s is invalid", field)
	}
}

// Errors joins several problems into one Message.
func Errors(problems []string) Message {
	return Message{Message: "error - " + strings.Join(problems, ", ")}
}
