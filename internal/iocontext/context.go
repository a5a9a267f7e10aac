package iocontext

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"idylle/internal/criteria"
)

// ErrInvalidContext is matched by every InvalidContextError
var ErrInvalidContext = errors.New("invalid context")

// InvalidContextError reports a message that cannot produce a context.
// Field names what was missing: "connection" or "message".
type InvalidContextError struct {
	Field string
}

func (e *InvalidContextError) Error() string {
	return fmt.Sprintf("invalid context: missing %s", e.Field)
}

// Is matches ErrInvalidContext
func (e *InvalidContextError) Is(target error) bool {
	return target == ErrInvalidContext
}

// Connection is the live connection a message arrived on
type Connection interface {
	ID() string
	// Principal returns the authenticated identity, or nil
	Principal() any
}

// Message is the structured form of an inbound payload
type Message struct {
	Data  any `json:"data,omitempty"`
	Token any `json:"token,omitempty"`
	Query any `json:"query,omitempty"`
}

// Context is the per-message request context handed to actions
type Context struct {
	conn      Connection
	user      any
	data      any
	token     any
	query     any
	criteria  *criteria.Criteria
	malformed bool
}

// Build validates raw against conn and derives a Context.
//
// Textual messages are decoded as JSON. When decoding fails the message is
// kept as a context with no data, token or query, and Malformed reports true.
// The criteria builder always runs, on the query or on nil.
func Build(conn Connection, raw any, cb criteria.Builder) (*Context, error) {
	if isNilConn(conn) {
		return nil, &InvalidContextError{Field: "connection"}
	}
	if isEmpty(raw) {
		return nil, &InvalidContextError{Field: "message"}
	}
	if cb == nil {
		cb = criteria.NewBuilder()
	}

	msg, ok := decode(raw)
	c := &Context{
		conn:      conn,
		user:      conn.Principal(),
		malformed: !ok,
	}
	if ok {
		c.data = msg.Data
		c.token = msg.Token
		c.query = msg.Query
	}

	crit, err := cb.Build(c.query)
	if err != nil {
		return nil, fmt.Errorf("build criteria: %w", err)
	}
	c.criteria = crit
	return c, nil
}

// isNilConn also catches a nil pointer wrapped in the interface
func isNilConn(conn Connection) bool {
	if conn == nil {
		return true
	}
	v := reflect.ValueOf(conn)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Interface, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func isEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case json.RawMessage:
		return len(v) == 0
	case *Message:
		return v == nil
	case map[string]any:
		return v == nil
	}
	return false
}

// decode returns the structured message and whether raw had a usable shape
func decode(raw any) (Message, bool) {
	switch v := raw.(type) {
	case Message:
		return v, true
	case *Message:
		return *v, true
	case map[string]any:
		return fromRecord(v), true
	case string:
		return decodeText([]byte(v))
	case []byte:
		return decodeText(v)
	case json.RawMessage:
		return decodeText(v)
	default:
		return Message{}, false
	}
}

func decodeText(b []byte) (Message, bool) {
	var record map[string]any
	if err := json.Unmarshal(b, &record); err != nil || record == nil {
		return Message{}, false
	}
	return fromRecord(record), true
}

func fromRecord(record map[string]any) Message {
	return Message{
		Data:  record["data"],
		Token: record["token"],
		Query: record["query"],
	}
}

// Connection returns the connection the message arrived on
func (c *Context) Connection() Connection { return c.conn }

// ConnectionID returns the id of the originating connection
func (c *Context) ConnectionID() string { return c.conn.ID() }

// User returns the identity attached to the connection, or nil
func (c *Context) User() any { return c.user }

// Data returns the message payload
func (c *Context) Data() any { return c.data }

// Token returns the continuation token echoed back in responses. It is
// opaque: whatever JSON value the client sent, or nil.
func (c *Context) Token() any { return c.token }

// Query returns the raw query the criteria were built from
func (c *Context) Query() any { return c.query }

// Criteria returns the normalized query criteria, never nil
func (c *Context) Criteria() *criteria.Criteria { return c.criteria }

// Malformed reports whether the raw message could not be decoded
func (c *Context) Malformed() bool { return c.malformed }

// Bind decodes the payload into v
func (c *Context) Bind(v any) error {
	if c.data == nil {
		return errors.New("bind: message has no data")
	}
	b, err := json.Marshal(c.data)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	return nil
}
