package store

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/oprreport/internal/config"
)

type dialect int

const (
	dialectMySQL dialect = iota
	dialectPostgres
	dialectSQLite
)

func (d dialect) placeholder(n int) string {
	if d == dialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// open returns a handle for the configured driver pointed at host:port.
// Nothing is dialled until the handle is used.
func open(cfg config.Database, host string, port int) (*sql.DB, dialect, error) {
	switch cfg.Driver {
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Pass
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
		mc.DBName = cfg.Name
		mc.ParseTime = true
		mc.Loc = time.Local
		mc.Timeout = cfg.Timeout
		db, err := sql.Open("mysql", mc.FormatDSN())
		return db, dialectMySQL, err

	case "pgx":
		pc, err := pgx.ParseConfig("")
		if err != nil {
			return nil, dialectPostgres, err
		}
		pc.Host = host
		pc.Port = uint16(port)
		pc.User = cfg.User
		pc.Password = cfg.Pass
		pc.Database = cfg.Name
		pc.ConnectTimeout = cfg.Timeout
		return stdlib.OpenDB(*pc), dialectPostgres, nil

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Name)
		return db, dialectSQLite, err

	default:
		return nil, 0, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}
