package model

import "time"

// Fields lists the OPR columns in report order. Spreadsheet columns follow
// this order one-to-one.
var Fields = []string{
	"submitted",
	"dealership",
	"model",
	"hull_serial_number",
	"date_delivered",
	"agency",
	"first_name",
	"last_name",
	"phone_home",
	"email",
	"mailing_address",
	"mailing_city",
	"mailing_state",
	"mailing_zip",
}

// Record is one owner product registration row.
type Record struct {
	Submitted        time.Time
	Dealership       string
	Model            string
	HullSerialNumber string
	DateDelivered    time.Time
	Agency           string
	FirstName        string
	LastName         string
	PhoneHome        string
	Email            string
	MailingAddress   string
	MailingCity      string
	MailingState     string
	MailingZip       string
}

// Values returns the record's columns in Fields order. Zero timestamps are
// returned as nil so they render as empty cells.
func (r Record) Values() []any {
	return []any{
		timeValue(r.Submitted),
		r.Dealership,
		r.Model,
		r.HullSerialNumber,
		timeValue(r.DateDelivered),
		r.Agency,
		r.FirstName,
		r.LastName,
		r.PhoneHome,
		r.Email,
		r.MailingAddress,
		r.MailingCity,
		r.MailingState,
		r.MailingZip,
	}
}

// WithSubmittedDate returns a copy with the time of day dropped from
// Submitted.
func (r Record) WithSubmittedDate() Record {
	r.Submitted = DateOnly(r.Submitted)
	return r
}

// Customer formats the buyer as "Agency, First Last", omitting the agency
// prefix when there is none.
func (r Record) Customer() string {
	name := r.FirstName + " " + r.LastName
	if r.Agency != "" {
		return r.Agency + ", " + name
	}
	return name
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func timeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
