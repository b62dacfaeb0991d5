package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	DefaultEnvFile  = ".env-local"
	DefaultTemplate = "opr-template.xlsx"
	DefaultInterval = 7
	DefaultTitle    = "Weekly"
	DefaultVerbose  = 1
	MaxVerbosity    = 3

	dateLayout = "2006-01-02"
)

type RunConfig struct {
	Debug bool
	// Verbosity is the effective log volume: the requested level when Debug
	// is set, zero otherwise.
	Verbosity int

	IntervalDays int
	AsOf         time.Time
	Title        string

	DumpToConsole    bool
	TemplatePath     string
	OutputDir        string
	AbbreviateStates bool

	Mail     Mail
	Database Database
	Tunnel   Tunnel
}

type Mail struct {
	From   string
	To     []string
	Cc     []string
	Server string
	User   string
	Pass   string
}

// Configured reports whether enough is known to dispatch a message.
func (m Mail) Configured() bool {
	return m.Server != "" && m.From != "" && len(m.To) > 0
}

type Database struct {
	Driver  string // mysql, pgx or sqlite
	Host    string
	Port    int
	User    string
	Pass    string
	Name    string
	Timeout time.Duration
}

// Tunnel describes the SSH hop in front of the database. An empty Host
// means the database is reached directly.
type Tunnel struct {
	Host       string
	Port       int
	User       string
	KeyPath    string
	KnownHosts string
}

func (t Tunnel) Enabled() bool {
	return t.Host != ""
}

// NewFlagSet declares the command line options. Every option is optional and
// only counts as supplied when it appears in args.
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.BoolP("debug", "d", false, "show debug output")
	flags.IntP("verbose", "v", DefaultVerbose, "verbosity level 0-3")
	flags.IntP("interval", "i", DefaultInterval, "report interval in days")
	flags.String("date", "", "report date (YYYY-MM-DD), defaults to now")
	flags.StringP("title", "t", "", "interval title used in the email body")
	flags.Bool("dump", false, "print the report instead of emailing a spreadsheet")
	flags.String("template", "", "spreadsheet template to populate")
	flags.String("output-dir", "", "directory the spreadsheet is written to before sending")
	flags.String("env-file", DefaultEnvFile, "dotenv file layered under the process environment")
	flags.Bool("abbreviate-states", false, "replace mailing state names with postal codes")
	return flags
}

// Load parses args and resolves every setting against env and the dotenv
// file. It reads but never modifies the process environment.
func Load(args []string, env LookupFunc, now func() time.Time) (*RunConfig, error) {
	flags := NewFlagSet("oprreport")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, &Error{Setting: "flags", Err: err}
	}

	envFile := NewResolver(flags, env).Text("env-file", "ENV_FILE", DefaultEnvFile)
	layered, err := withEnvFile(env, envFile)
	if err != nil {
		return nil, err
	}
	r := NewResolver(flags, layered)

	cfg := &RunConfig{
		Debug:            r.Flag("debug", "DEBUG", false),
		Title:            r.Text("title", "INTERVAL_TITLE", DefaultTitle),
		DumpToConsole:    r.Flag("dump", "DUMP", false),
		AbbreviateStates: r.Flag("abbreviate-states", "ABBREVIATE_STATES", false),
		Mail:             loadMail(r),
	}

	verbose, err := r.Int("verbose", "VERBOSE", DefaultVerbose)
	if err != nil {
		return nil, err
	}
	if verbose < 0 || verbose > MaxVerbosity {
		return nil, &Error{Setting: "VERBOSE", Err: fmt.Errorf("must be between 0 and %d, got %d", MaxVerbosity, verbose)}
	}
	if cfg.Debug {
		cfg.Verbosity = verbose
	}

	if cfg.IntervalDays, err = r.Int("interval", "INTERVAL", DefaultInterval); err != nil {
		return nil, err
	}

	cfg.AsOf = now()
	if date := strings.TrimSpace(r.Text("date", "DATE", "")); date != "" {
		parsed, err := time.ParseInLocation(dateLayout, date, time.Local)
		if err != nil {
			return nil, &Error{Setting: "DATE", Err: fmt.Errorf("%q is not a YYYY-MM-DD date", date)}
		}
		cfg.AsOf = parsed
	}

	if cfg.TemplatePath, err = absPath("XLSFILE", r.Text("template", "XLSFILE", DefaultTemplate)); err != nil {
		return nil, err
	}
	if cfg.OutputDir, err = absPath("OUTPUT_DIR", r.Text("output-dir", "OUTPUT_DIR", ".")); err != nil {
		return nil, err
	}

	if cfg.Database, err = loadDatabase(r); err != nil {
		return nil, err
	}
	if cfg.Tunnel, err = loadTunnel(r); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would make the run meaningless.
func (c *RunConfig) Validate() error {
	if c.IntervalDays < 0 {
		return &Error{Setting: "INTERVAL", Err: fmt.Errorf("must not be negative, got %d", c.IntervalDays)}
	}
	switch c.Database.Driver {
	case "mysql", "pgx", "sqlite":
	default:
		return &Error{Setting: "DB_DRIVER", Err: fmt.Errorf("unsupported driver %q", c.Database.Driver)}
	}
	if c.DumpToConsole {
		return nil
	}
	if c.Mail.Server == "" {
		return &Error{Setting: "MAIL_SERVER", Err: errors.New("is required")}
	}
	if c.Mail.From == "" {
		return &Error{Setting: "MAIL_FROM", Err: errors.New("is required")}
	}
	if len(c.Mail.To) == 0 {
		return &Error{Setting: "MAIL_TO", Err: errors.New("is required")}
	}
	return nil
}

// Fallback holds what is needed to report a failed Load.
type Fallback struct {
	Mail Mail
	// Dump is true when console mode was requested; failures are then
	// never mailed.
	Dump bool
}

// ResolveFallback reads only the dump flag and mail settings from args, env
// and the same dotenv file Load would use. Malformed values elsewhere are
// ignored.
func ResolveFallback(args []string, env LookupFunc) Fallback {
	flags := NewFlagSet("oprreport")
	flags.SetOutput(io.Discard)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	// Flags before a malformed one are still marked as changed.
	_ = flags.Parse(args)

	envFile := NewResolver(flags, env).Text("env-file", "ENV_FILE", DefaultEnvFile)
	layered, err := withEnvFile(env, envFile)
	if err != nil {
		layered = env
	}
	r := NewResolver(flags, layered)
	return Fallback{
		Mail: loadMail(r),
		Dump: r.Flag("dump", "DUMP", false),
	}
}

func loadMail(r *Resolver) Mail {
	return Mail{
		From:   r.Text("", "MAIL_FROM", ""),
		To:     splitList(r.Text("", "MAIL_TO", "")),
		Cc:     splitList(r.Text("", "MAIL_CC", "")),
		Server: r.Text("", "MAIL_SERVER", ""),
		User:   r.Text("", "SMTP_USER", ""),
		Pass:   r.Text("", "SMTP_PASS", ""),
	}
}

func loadDatabase(r *Resolver) (Database, error) {
	db := Database{
		Driver: strings.ToLower(r.Text("", "DB_DRIVER", "mysql")),
		Host:   r.Text("", "DB_HOST", "127.0.0.1"),
		User:   r.Text("", "DB_USER", ""),
		Pass:   r.Text("", "DB_PASS", ""),
		Name:   r.Text("", "DB_NAME", ""),
	}
	var err error
	if db.Port, err = port(r, "DB_PORT", 3306); err != nil {
		return Database{}, err
	}
	timeout, err := r.Int("", "DB_TIMEOUT", 30)
	if err != nil {
		return Database{}, err
	}
	db.Timeout = time.Duration(timeout) * time.Second
	return db, nil
}

func loadTunnel(r *Resolver) (Tunnel, error) {
	t := Tunnel{
		Host:       r.Text("", "SSH_HOST", ""),
		User:       r.Text("", "SSH_USER", ""),
		KeyPath:    r.Text("", "SSH_KEY", ""),
		KnownHosts: r.Text("", "SSH_KNOWN_HOSTS", ""),
	}
	var err error
	if t.Port, err = port(r, "SSH_PORT", 22); err != nil {
		return Tunnel{}, err
	}
	return t, nil
}

func port(r *Resolver, env string, def int) (int, error) {
	n, err := r.Int("", env, def)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 65535 {
		return 0, &Error{Setting: env, Err: fmt.Errorf("port %d out of range 1-65535", n)}
	}
	return n, nil
}

// withEnvFile layers the dotenv file under env: variables present in env
// always win. A missing file is not an error.
func withEnvFile(env LookupFunc, path string) (LookupFunc, error) {
	if env == nil {
		env = func(string) (string, bool) { return "", false }
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return env, nil
		}
		return nil, &Error{Setting: "env-file", Err: fmt.Errorf("read %s: %w", path, err)}
	}
	return func(key string) (string, bool) {
		if v, ok := env(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

func absPath(setting, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &Error{Setting: setting, Err: err}
	}
	return abs, nil
}
