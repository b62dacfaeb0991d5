package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// LookupFunc reports the value of an environment variable and whether it is
// present at all. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Error is returned for malformed or missing settings.
type Error struct {
	Setting string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Setting, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Resolver merges explicitly supplied CLI flags, environment variables and
// built-in defaults, in that order of precedence.
type Resolver struct {
	flags *pflag.FlagSet
	env   LookupFunc
}

// NewResolver returns a Resolver over a parsed flag set. Either argument may
// be nil.
func NewResolver(flags *pflag.FlagSet, env LookupFunc) *Resolver {
	if env == nil {
		env = func(string) (string, bool) { return "", false }
	}
	return &Resolver{flags: flags, env: env}
}

// cli returns the flag's value only when it was given on the command line.
func (r *Resolver) cli(name string) (string, bool) {
	if r.flags == nil || name == "" {
		return "", false
	}
	f := r.flags.Lookup(name)
	if f == nil || !f.Changed {
		return "", false
	}
	return f.Value.String(), true
}

func (r *Resolver) lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	return r.env(key)
}

// Text resolves a string setting. Empty environment values fall through to
// the default.
func (r *Resolver) Text(flag, env, def string) string {
	if v, ok := r.cli(flag); ok {
		return v
	}
	if v, ok := r.lookup(env); ok && v != "" {
		return v
	}
	return def
}

// Int resolves a setting as text and parses it. A non-numeric value is an
// *Error, never a coerced default.
func (r *Resolver) Int(flag, env string, def int) (int, error) {
	text := strings.TrimSpace(r.Text(flag, env, strconv.Itoa(def)))
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, &Error{Setting: settingName(flag, env), Err: fmt.Errorf("%q is not an integer", text)}
	}
	return n, nil
}

// Flag resolves a boolean. A present environment variable counts as true when
// non-empty and false when empty; an absent one falls through to def.
func (r *Resolver) Flag(flag, env string, def bool) bool {
	if v, ok := r.cli(flag); ok {
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	if v, ok := r.lookup(env); ok {
		return v != ""
	}
	return def
}

func settingName(flag, env string) string {
	if env != "" {
		return env
	}
	return "--" + flag
}

// splitList turns a comma separated value into trimmed, non-empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
