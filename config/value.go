package config

import (
	"time"

	"github.com/spf13/cast"
)

// Value is a sparse, typed configuration value. Present reports whether
// the key existed anywhere in the layered lookup; per spec.md §9's
// re-architecture note, the old "hundreds of boolean useX flags" become
// simply "key is present in the map".
type Value struct {
	raw     interface{}
	present bool
}

func (v Value) Present() bool { return v.present }

func (v Value) String() string {
	if !v.present {
		return ""
	}
	return cast.ToString(v.raw)
}

func (v Value) StringOr(def string) string {
	if !v.present {
		return def
	}
	return cast.ToString(v.raw)
}

func (v Value) Int() int {
	if !v.present {
		return 0
	}
	return cast.ToInt(v.raw)
}

func (v Value) IntOr(def int) int {
	if !v.present {
		return def
	}
	return cast.ToInt(v.raw)
}

func (v Value) Bool() bool {
	if !v.present {
		return false
	}
	return cast.ToBool(v.raw)
}

func (v Value) BoolOr(def bool) bool {
	if !v.present {
		return def
	}
	return cast.ToBool(v.raw)
}

func (v Value) Duration() time.Duration {
	if !v.present {
		return 0
	}
	return cast.ToDuration(v.raw)
}

func (v Value) StringSlice() []string {
	if !v.present {
		return nil
	}
	return cast.ToStringSlice(v.raw)
}
