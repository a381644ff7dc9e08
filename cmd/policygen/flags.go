package main

import (
	"strconv"
	"time"
)

// optionalInt64 is a flag that remembers whether it was given.
type optionalInt64 struct {
	value *int64
}

func (o *optionalInt64) String() string {
	if o == nil || o.value == nil {
		return ""
	}
	return strconv.FormatInt(*o.value, 10)
}

func (o *optionalInt64) Set(s string) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	o.value = &v
	return nil
}

// resolve returns the explicit value, or now+ttl when ttl is positive.
func (o *optionalInt64) resolve(ttl time.Duration, now time.Time) *int64 {
	if o.value != nil {
		return o.value
	}
	if ttl > 0 {
		ms := now.Add(ttl).UnixMilli()
		return &ms
	}
	return nil
}
