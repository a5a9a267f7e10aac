package criteria

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxLimit is the largest page size a query may ask for
const MaxLimit = 1000

// ErrInvalidCriteria is matched by every error Build returns
var ErrInvalidCriteria = errors.New("invalid criteria")

var validate = validator.New()

// SortField orders results by one field
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Criteria is the normalized query filter attached to every message context
type Criteria struct {
	Filter map[string]any `json:"filter"`
	Sort   []SortField    `json:"sort,omitempty"`
	Limit  int            `json:"limit,omitempty" validate:"gte=0,lte=1000"`
	Skip   int            `json:"skip,omitempty" validate:"gte=0"`
	Fields []string       `json:"fields,omitempty"`
}

// Empty reports whether the criteria constrain nothing
func (c *Criteria) Empty() bool {
	return c == nil || (len(c.Filter) == 0 && len(c.Sort) == 0 && c.Limit == 0 && c.Skip == 0 && len(c.Fields) == 0)
}

// ValidationError describes a query value that could not be turned into criteria
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid criteria: %s: %s", e.Field, e.Reason)
}

// Is matches ErrInvalidCriteria
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidCriteria
}

// Builder turns a raw query into Criteria
type Builder interface {
	Build(query any) (*Criteria, error)
}

// BuilderFunc adapts a function to the Builder interface
type BuilderFunc func(query any) (*Criteria, error)

// Build calls f(query)
func (f BuilderFunc) Build(query any) (*Criteria, error) {
	return f(query)
}

// Option configures the default builder
type Option func(*builder)

// WithDefaultLimit sets the limit used when a query names none
func WithDefaultLimit(n int) Option {
	return func(b *builder) {
		b.defaultLimit = n
	}
}

type builder struct {
	defaultLimit int
}

// NewBuilder returns the default criteria builder. It accepts maps,
// url.Values and JSON object text. Recognized keys are filter (or where),
// sort, limit, skip (or offset) and fields (or select). Any other key
// becomes an equality filter.
func NewBuilder(opts ...Option) Builder {
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *builder) Build(query any) (*Criteria, error) {
	c := &Criteria{Filter: make(map[string]any), Limit: b.defaultLimit}

	fields, err := normalize(query)
	if err != nil {
		return nil, err
	}

	// deterministic order so the first reported error is stable
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := b.apply(c, key, fields[key]); err != nil {
			return nil, err
		}
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &ValidationError{
				Field:  strings.ToLower(verrs[0].Field()),
				Reason: fmt.Sprintf("failed %s=%s", verrs[0].Tag(), verrs[0].Param()),
			}
		}
		return nil, &ValidationError{Field: "query", Reason: err.Error()}
	}
	return c, nil
}

func (b *builder) apply(c *Criteria, key string, value any) error {
	switch strings.ToLower(key) {
	case "filter", "where":
		filter, err := toMap(key, value)
		if err != nil {
			return err
		}
		for k, v := range filter {
			c.Filter[k] = v
		}
	case "sort", "order":
		s, err := parseSort(key, value)
		if err != nil {
			return err
		}
		c.Sort = s
	case "limit":
		n, err := toInt(key, value)
		if err != nil {
			return err
		}
		c.Limit = n
	case "skip", "offset":
		n, err := toInt(key, value)
		if err != nil {
			return err
		}
		c.Skip = n
	case "fields", "select":
		f, err := toStrings(key, value)
		if err != nil {
			return err
		}
		c.Fields = f
	default:
		c.Filter[key] = value
	}
	return nil
}

// normalize flattens the supported query shapes into a plain map
func normalize(query any) (map[string]any, error) {
	switch q := query.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return q, nil
	case map[string]string:
		out := make(map[string]any, len(q))
		for k, v := range q {
			out[k] = v
		}
		return out, nil
	case url.Values:
		out := make(map[string]any, len(q))
		for k, v := range q {
			switch len(v) {
			case 0:
			case 1:
				out[k] = v[0]
			default:
				out[k] = v
			}
		}
		return out, nil
	case string:
		return decodeJSON([]byte(q))
	case []byte:
		return decodeJSON(q)
	case json.RawMessage:
		return decodeJSON(q)
	case *Criteria:
		return fromCriteria(q), nil
	default:
		return nil, &ValidationError{Field: "query", Reason: fmt.Sprintf("unsupported type %T", query)}
	}
}

func decodeJSON(raw []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ValidationError{Field: "query", Reason: "not a JSON object"}
	}
	return out, nil
}

func fromCriteria(c *Criteria) map[string]any {
	if c == nil {
		return nil
	}
	out := map[string]any{"limit": c.Limit, "skip": c.Skip}
	if len(c.Filter) > 0 {
		out["filter"] = c.Filter
	}
	if len(c.Sort) > 0 {
		parts := make([]any, len(c.Sort))
		for i, s := range c.Sort {
			if s.Desc {
				parts[i] = "-" + s.Field
			} else {
				parts[i] = s.Field
			}
		}
		out["sort"] = parts
	}
	if len(c.Fields) > 0 {
		fields := make([]any, len(c.Fields))
		for i, f := range c.Fields {
			fields[i] = f
		}
		out["fields"] = fields
	}
	return out
}

func toMap(key string, value any) (map[string]any, error) {
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, &ValidationError{Field: key, Reason: "not a JSON object"}
		}
		return out, nil
	default:
		return nil, &ValidationError{Field: key, Reason: fmt.Sprintf("expected object, got %T", value)}
	}
}

func toInt(key string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, &ValidationError{Field: key, Reason: "not an integer"}
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, &ValidationError{Field: key, Reason: "not an integer"}
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, &ValidationError{Field: key, Reason: "not an integer"}
		}
		return n, nil
	default:
		return 0, &ValidationError{Field: key, Reason: fmt.Sprintf("expected integer, got %T", value)}
	}
}

func toStrings(key string, value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &ValidationError{Field: key, Reason: fmt.Sprintf("expected string item, got %T", item)}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &ValidationError{Field: key, Reason: fmt.Sprintf("expected list, got %T", value)}
	}
}

// parseSort accepts "a,-b", a list of such names, or an object of
// field to direction (1, -1, "asc", "desc")
func parseSort(key string, value any) ([]SortField, error) {
	if m, ok := value.(map[string]any); ok {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)

		out := make([]SortField, 0, len(m))
		for _, name := range names {
			desc, err := parseDirection(key, m[name])
			if err != nil {
				return nil, err
			}
			out = append(out, SortField{Field: name, Desc: desc})
		}
		return out, nil
	}

	names, err := toStrings(key, value)
	if err != nil {
		return nil, err
	}
	out := make([]SortField, 0, len(names))
	for _, name := range names {
		switch {
		case strings.HasPrefix(name, "-"):
			out = append(out, SortField{Field: name[1:], Desc: true})
		case strings.HasPrefix(name, "+"):
			out = append(out, SortField{Field: name[1:]})
		default:
			out = append(out, SortField{Field: name})
		}
	}
	return out, nil
}

func parseDirection(key string, v any) (bool, error) {
	switch d := v.(type) {
	case float64:
		return d < 0, nil
	case int:
		return d < 0, nil
	case string:
		switch strings.ToLower(d) {
		case "desc", "-1":
			return true, nil
		case "asc", "1", "":
			return false, nil
		}
	}
	return false, &ValidationError{Field: key, Reason: fmt.Sprintf("invalid direction %v", v)}
}
