// Package extract pulls identifiers and tokens out of loosely specified
// JSON responses using an explicit priority list of JMESPath expressions.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/jmespath/go-jmespath"
)

// ErrNotFound is returned when none of the accepted key paths resolves
var ErrNotFound = errors.New("not found in response")

// TokenPaths are the accepted locations of a bearer token, highest priority first
var TokenPaths = []string{"token", "access_token", "jwt", "data.token"}

// IDPaths returns the accepted locations of a resource identifier, highest
// priority first:
//
//	id, _id, <resource>_id, appointment_id, payment_id, <resource>.id, user.id, data.id
//
// resource may be empty.
func IDPaths(resource string) []string {
	candidates := []string{"id", "_id"}
	if resource != "" {
		candidates = append(candidates, resource+"_id")
	}
	candidates = append(candidates, "appointment_id", "payment_id")
	if resource != "" {
		candidates = append(candidates, resource+".id")
	}
	candidates = append(candidates, "user.id", "data.id")

	seen := make(map[string]bool, len(candidates))
	paths := candidates[:0]
	for _, p := range candidates {
		if seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	return paths
}

// Identifier is a resource id as the API returned it (number or string)
type Identifier struct {
	value any
	path  string
}

// Value returns the id as decoded from JSON
func (i Identifier) Value() any {
	return i.value
}

// Path returns the expression the id was found under
func (i Identifier) Path() string {
	return i.path
}

// IsZero reports an unset identifier
func (i Identifier) IsZero() bool {
	return i.value == nil
}

func (i Identifier) String() string {
	switch v := i.value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Int64 converts the id to an integer, for payloads that expect numeric ids
func (i Identifier) Int64() (int64, error) {
	switch v := i.value.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("identifier %v is not an integer", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("identifier %q is not an integer: %w", v, err)
		}
		return n, nil
	case nil:
		return 0, ErrNotFound
	default:
		return 0, fmt.Errorf("identifier of type %T is not an integer", v)
	}
}

// MarshalJSON keeps numeric ids numeric
func (i Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.value)
}

// ID finds the identifier of resource in body
func ID(body any, resource string) (Identifier, error) {
	for _, path := range IDPaths(resource) {
		value, err := jmespath.Search(path, body)
		if err != nil {
			return Identifier{}, fmt.Errorf("failed to evaluate %s: %w", path, err)
		}
		if usable(value) {
			return Identifier{value: value, path: path}, nil
		}
	}
	return Identifier{}, fmt.Errorf("%s id: %w", resourceLabel(resource), ErrNotFound)
}

// Token finds a non-empty bearer token in body
func Token(body any) (string, error) {
	for _, path := range TokenPaths {
		value, err := jmespath.Search(path, body)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate %s: %w", path, err)
		}
		if s, ok := value.(string); ok && s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("token: %w", ErrNotFound)
}

// Lookup evaluates a single JMESPath expression; a null result is ErrNotFound
func Lookup(body any, expression string) (any, error) {
	value, err := jmespath.Search(expression, body)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %s: %w", expression, err)
	}
	if value == nil {
		return nil, fmt.Errorf("%s: %w", expression, ErrNotFound)
	}
	return value, nil
}

func usable(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case float64, json.Number:
		return true
	default:
		return false
	}
}

func resourceLabel(resource string) string {
	if resource == "" {
		return "resource"
	}
	return resource
}
