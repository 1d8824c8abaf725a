package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type FilterMode string

const (
	ModeEmail   FilterMode = "email"
	ModeFile    FilterMode = "file"
	ModeSelf    FilterMode = "self"
	ModeDefault FilterMode = "default"
)

const (
	InstructorsAll     = ""
	InstructorsExclude = "exclude"
	InstructorsOnly    = "only"
)

const (
	EnrollmentPaid = "paid"
	EnrollmentFree = "free"
)

const DateLayout = "02.01.2006"

var (
	MinFilterDate = Date{time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	MaxFilterDate = Date{time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
)

// Date is a calendar day serialized as dd.mm.yyyy.
type Date struct {
	time.Time
}

func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FilterSpec is the normalized description of who receives a campaign.
// Exactly one mode is active; fields of the other modes hold their defaults.
type FilterSpec struct {
	Mode           FilterMode `json:"filter_type"`
	Subscribed     bool       `json:"subscribed"`
	Emails         []string   `json:"emails,omitempty"`
	EmailsList     []string   `json:"emails_list,omitempty"`
	ToMyself       bool       `json:"to_myself"`
	SessionIDs     []int      `json:"session_filter,omitempty"`
	CourseIDs      []int      `json:"course_filter,omitempty"`
	UniversityIDs  []int      `json:"university_filter,omitempty"`
	Instructors    string     `json:"instructors_filter"`
	LastLoginFrom  Date       `json:"last_login_from"`
	LastLoginTo    Date       `json:"last_login_to"`
	RegisterFrom   Date       `json:"register_date_from"`
	RegisterTo     Date       `json:"register_date_to"`
	EnrollmentType []string   `json:"enrollment_type,omitempty"`
	GotCertificate []string   `json:"got_certificate,omitempty"`
}

// DefaultRules returns the rule-based fields at their initial values.
func DefaultRules() FilterSpec {
	return FilterSpec{
		Instructors:    InstructorsAll,
		LastLoginFrom:  MinFilterDate,
		LastLoginTo:    MaxFilterDate,
		RegisterFrom:   MinFilterDate,
		RegisterTo:     MaxFilterDate,
		EnrollmentType: []string{EnrollmentPaid, EnrollmentFree},
	}
}

// RuleBased reports whether recipients come from directory rules rather than
// a literal list or the sender alone.
func (f FilterSpec) RuleBased() bool {
	return f.Mode == ModeDefault || (f.Mode == "" && f.Subscribed)
}

// HasEnrollmentRules reports whether the upstream enrollment directory is
// needed to evaluate the spec.
func (f FilterSpec) HasEnrollmentRules() bool {
	if len(f.SessionIDs) > 0 || len(f.CourseIDs) > 0 || len(f.UniversityIDs) > 0 {
		return true
	}
	if len(f.GotCertificate) > 0 {
		return true
	}
	return !coversBothTypes(f.EnrollmentType)
}

// HasUserRules reports whether any account-level predicate narrows the set.
func (f FilterSpec) HasUserRules() bool {
	return f.Subscribed ||
		f.Instructors != InstructorsAll ||
		!f.LastLoginFrom.Equal(MinFilterDate.Time) ||
		!f.LastLoginTo.Equal(MaxFilterDate.Time) ||
		!f.RegisterFrom.Equal(MinFilterDate.Time) ||
		!f.RegisterTo.Equal(MaxFilterDate.Time)
}

// Unconstrained is true when a rule-based spec would select every known user.
func (f FilterSpec) Unconstrained() bool {
	return f.RuleBased() && !f.HasUserRules() && !f.HasEnrollmentRules()
}

func coversBothTypes(types []string) bool {
	var paid, free bool
	for _, t := range types {
		switch t {
		case EnrollmentPaid:
			paid = true
		case EnrollmentFree:
			free = true
		}
	}
	return (paid && free) || len(types) == 0
}

func (f FilterSpec) Value() (driver.Value, error) {
	return json.Marshal(f)
}

func (f *FilterSpec) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = FilterSpec{}
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("cannot scan %T into FilterSpec", src)
	}
}
