package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oprreport/internal/config"
	"github.com/oprreport/internal/model"
	"github.com/oprreport/internal/tunnel"
	"github.com/oprreport/internal/window"
)

const oprTable = "wp_nrb_opr"

// Error wraps any connectivity or query failure while fetching records.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("data source: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// forwarder is the part of *tunnel.Tunnel the source relies on.
type forwarder interface {
	Addr() string
	Close() error
}

type tunnelOpener func(ctx context.Context, cfg tunnel.Config, logger *slog.Logger) (forwarder, error)

func openSSHTunnel(ctx context.Context, cfg tunnel.Config, logger *slog.Logger) (forwarder, error) {
	return tunnel.Open(ctx, cfg, logger)
}

// Source fetches OPR records. Every Fetch acquires its own tunnel and
// connection and releases both before returning.
type Source struct {
	db         config.Database
	tunnel     config.Tunnel
	logger     *slog.Logger
	openTunnel tunnelOpener
}

func NewSource(db config.Database, tun config.Tunnel, logger *slog.Logger) *Source {
	return &Source{
		db:         db,
		tunnel:     tun,
		logger:     logger,
		openTunnel: openSSHTunnel,
	}
}

// Fetch returns every record submitted inside w, both ends included, most
// recent first.
func (s *Source) Fetch(ctx context.Context, w window.Window) ([]model.Record, error) {
	if s.db.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.db.Timeout)
		defer cancel()
	}

	host, port := s.db.Host, s.db.Port
	if s.tunnel.Enabled() {
		fwd, err := s.openTunnel(ctx, tunnel.Config{
			Host:       s.tunnel.Host,
			Port:       s.tunnel.Port,
			User:       s.tunnel.User,
			KeyPath:    s.tunnel.KeyPath,
			KnownHosts: s.tunnel.KnownHosts,
			Remote:     net.JoinHostPort(s.db.Host, strconv.Itoa(s.db.Port)),
		}, s.logger)
		if err != nil {
			return nil, &Error{Op: "open tunnel", Err: err}
		}
		defer func() {
			if err := fwd.Close(); err != nil {
				s.logger.Warn("store: tunnel close failed", "err", err)
			}
		}()

		host, port, err = splitAddr(fwd.Addr())
		if err != nil {
			return nil, &Error{Op: "open tunnel", Err: err}
		}
	}

	db, d, err := open(s.db, host, port)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}

	start := time.Now()
	records, err := queryRecords(ctx, db, d, w)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("store: fetched records", "records", len(records), "window", w.String(), "elapsed", time.Since(start))
	return records, nil
}

func queryRecords(ctx context.Context, db *sql.DB, d dialect, w window.Window) ([]model.Record, error) {
	rows, err := db.QueryContext(ctx, selectQuery(d), w.Start, w.End)
	if err != nil {
		return nil, &Error{Op: "query", Err: err}
	}
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, &Error{Op: "scan", Err: err}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "query", Err: err}
	}
	return records, nil
}

func selectQuery(d dialect) string {
	return fmt.Sprintf(`
		SELECT %s
		  FROM %s
		 WHERE submitted BETWEEN %s AND %s
		 ORDER BY submitted DESC`,
		strings.Join(model.Fields, ", "), oprTable, d.placeholder(1), d.placeholder(2))
}

func scanRecord(rows *sql.Rows) (model.Record, error) {
	var (
		submitted, delivered sql.NullTime
		text                 [12]sql.NullString
	)
	err := rows.Scan(
		&submitted,
		&text[0], // dealership
		&text[1], // model
		&text[2], // hull_serial_number
		&delivered,
		&text[3],  // agency
		&text[4],  // first_name
		&text[5],  // last_name
		&text[6],  // phone_home
		&text[7],  // email
		&text[8],  // mailing_address
		&text[9],  // mailing_city
		&text[10], // mailing_state
		&text[11], // mailing_zip
	)
	if err != nil {
		return model.Record{}, err
	}
	return model.Record{
		Submitted:        submitted.Time,
		Dealership:       text[0].String,
		Model:            text[1].String,
		HullSerialNumber: text[2].String,
		DateDelivered:    delivered.Time,
		Agency:           text[3].String,
		FirstName:        text[4].String,
		LastName:         text[5].String,
		PhoneHome:        text[6].String,
		Email:            text[7].String,
		MailingAddress:   text[8].String,
		MailingCity:      text[9].String,
		MailingState:     text[10].String,
		MailingZip:       text[11].String,
	}, nil
}

func splitAddr(addr string) (string, int, error) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return "", 0, fmt.Errorf("bad port in %q: %w", addr, err)
	}
	return host, port, nil
}
