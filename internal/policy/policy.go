package policy

import (
	"bytes"
	"encoding/json"
	"net/netip"
	"strings"
	"time"
	"unicode/utf8"
)

// Constraints are the caller-supplied limits for a signed URL. Nil
// timestamps and a blank AllowIP mean "not constrained".
type Constraints struct {
	URLExpire    *int64
	URLActivate  *int64
	StreamExpire *int64
	AllowIP      string
}

// Policy is the canonical form embedded in a signed URL. Timestamps are
// epoch milliseconds. Field order here is the serialized order.
type Policy struct {
	URLExpire    *int64 `json:"url_expire,omitempty"`
	URLActivate  *int64 `json:"url_activate,omitempty"`
	StreamExpire *int64 `json:"stream_expire,omitempty"`
	AllowIP      string `json:"allow_ip,omitempty"`
}

// Options enables stricter checks some media server deployments apply.
type Options struct {
	// RequireURLExpire rejects policies without url_expire.
	RequireURLExpire bool
	// ValidateAllowIP rejects allow_ip values that are not an address or prefix.
	ValidateAllowIP bool
}

// Int64 returns a pointer to v, for filling Constraints.
func Int64(v int64) *int64 {
	return &v
}

// EpochMillis returns t as epoch milliseconds, for filling Constraints.
func EpochMillis(t time.Time) *int64 {
	return Int64(t.UnixMilli())
}

// Build turns constraints into a Policy. It fails with a ValidationError
// when nothing is constrained or an enabled option is violated.
func Build(c Constraints, opts Options) (Policy, error) {
	p := Policy{
		URLExpire:    c.URLExpire,
		URLActivate:  c.URLActivate,
		StreamExpire: c.StreamExpire,
		// Signed bytes carry the trimmed value, so they can differ from
		// generators that copy allow_ip through untouched.
		AllowIP: strings.TrimSpace(c.AllowIP),
	}

	if p.IsEmpty() {
		return Policy{}, newValidationError("", ErrEmptyPolicy)
	}
	if opts.RequireURLExpire && p.URLExpire == nil {
		return Policy{}, newValidationError("url_expire", ErrURLExpireRequired)
	}
	if p.AllowIP != "" {
		if !utf8.ValidString(p.AllowIP) {
			return Policy{}, NewEncodingError("allow_ip", ErrInvalidUTF8)
		}
		if opts.ValidateAllowIP && !validAllowIP(p.AllowIP) {
			return Policy{}, newValidationError("allow_ip", ErrInvalidAllowIP)
		}
	}
	return p, nil
}

// IsEmpty reports whether no field is set.
func (p Policy) IsEmpty() bool {
	return p.URLExpire == nil && p.URLActivate == nil && p.StreamExpire == nil && p.AllowIP == ""
}

// Marshal returns the compact JSON form. The same Policy always yields the
// same bytes.
func (p Policy) Marshal() ([]byte, error) {
	if p.IsEmpty() {
		return nil, newValidationError("", ErrEmptyPolicy)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, NewEncodingError("policy", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Unmarshal parses a policy document produced by Marshal.
func Unmarshal(data []byte) (Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, NewEncodingError("policy", err)
	}
	return p, nil
}

func validAllowIP(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
