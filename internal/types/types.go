package types

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// UnreachableStatus is the synthetic status code returned when no HTTP
// response could be obtained within the retry budget.
const UnreachableStatus = 599

// Request describes a single logical call against the API
type Request struct {
	Method  string        `json:"method" yaml:"method"`
	Path    string        `json:"path" yaml:"path"`
	Token   string        `json:"-" yaml:"-"`
	Payload any           `json:"payload,omitempty" yaml:"payload,omitempty"` // []byte is sent verbatim, anything else as JSON
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// BodyKind tells how the body of an Outcome was obtained
type BodyKind int

const (
	// KindJSON is a decoded application/json body
	KindJSON BodyKind = iota
	// KindRaw is an undecoded body from a successful non-JSON response
	KindRaw
	// KindErrorText is an error-status body that was not JSON (or not
	// decodable), wrapped as {"error": <text>}
	KindErrorText
	// KindUnreachable means the retry budget ran out without a response
	KindUnreachable
)

func (k BodyKind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindRaw:
		return "raw"
	case KindErrorText:
		return "error-text"
	case KindUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the normalized (status, body) pair of a call
type Outcome struct {
	Status int      `json:"status" yaml:"status"`
	Kind   BodyKind `json:"kind" yaml:"kind"`

	// JSON holds the decoded value for KindJSON and the {"error": ...}
	// mapping for KindErrorText and KindUnreachable.
	JSON any `json:"json,omitempty" yaml:"json,omitempty"`
	// Raw holds the bytes received for every kind except KindUnreachable.
	Raw []byte `json:"-" yaml:"-"`

	Attempts int           `json:"attempts" yaml:"attempts"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	// Err is the last transport error, only set for KindUnreachable.
	Err error `json:"-" yaml:"-"`
}

// Body returns the body half of the (status, body) pair: the decoded JSON
// value, the raw bytes of a non-JSON success, or the error mapping.
func (o *Outcome) Body() any {
	if o.Kind == KindRaw {
		return o.Raw
	}
	return o.JSON
}

// Map returns the body as a JSON object when it is one
func (o *Outcome) Map() (map[string]any, bool) {
	m, ok := o.JSON.(map[string]any)
	return m, ok
}

// ErrorText returns the "error" entry of an error mapping, if any
func (o *Outcome) ErrorText() string {
	m, ok := o.Map()
	if !ok {
		return ""
	}
	if s, ok := m["error"].(string); ok {
		return s
	}
	if v, ok := m["message"].(string); ok {
		return v
	}
	return ""
}

// IsSuccess reports a 2xx status
func (o *Outcome) IsSuccess() bool {
	return o.Status >= 200 && o.Status < 300
}

// IsUnreachable reports a synthetic transport failure
func (o *Outcome) IsUnreachable() bool {
	return o.Kind == KindUnreachable
}

// StatusIn reports whether the status is one of codes
func (o *Outcome) StatusIn(codes ...int) bool {
	for _, c := range codes {
		if o.Status == c {
			return true
		}
	}
	return false
}

// String renders the outcome for assertion messages
func (o *Outcome) String() string {
	if o == nil {
		return "<nil outcome>"
	}
	switch o.Kind {
	case KindRaw:
		return fmt.Sprintf("%d %s", o.Status, truncate(string(o.Raw), 512))
	default:
		data, err := json.Marshal(o.JSON)
		if err != nil {
			return fmt.Sprintf("%d %v", o.Status, o.JSON)
		}
		return fmt.Sprintf("%d %s", o.Status, truncate(string(data), 512))
	}
}

// truncate shortens s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// TLSConfig contains TLS/mTLS settings for the HTTP client
type TLSConfig struct {
	CertFile           string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	CAFile             string `json:"caFile,omitempty" yaml:"caFile,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// IsZero reports an empty TLS configuration
func (t *TLSConfig) IsZero() bool {
	return t == nil || (t.CertFile == "" && t.KeyFile == "" && t.CAFile == "" && !t.InsecureSkipVerify)
}
