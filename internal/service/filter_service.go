package service

import (
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"reflect"
	"strings"
	texttemplate "text/template"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/model"
)

const (
	msgRequired      = "this field is required"
	msgNoFilter      = "no filter selected"
	msgBadFile       = "file contains no data or is invalid"
	msgBadDate       = "enter a valid date in dd.mm.yyyy format"
	msgBadChoice     = "select a valid choice"
	msgLoginRange    = "last login dates are out of order: 'from' is after 'to'"
	msgRegisterRange = "registration dates are out of order: 'from' is after 'to'"
	msgBadHTML       = "invalid HTML message template"
	msgBadSubject    = "invalid subject template"
	msgBadText       = "invalid text message template"
)

// FilterInput is the raw campaign form as submitted by staff.
type FilterInput struct {
	TemplateID  int    `json:"chosen_template"`
	Subject     string `json:"subject" validate:"required,max=128"`
	HTMLMessage string `json:"html_message" validate:"required"`
	TextMessage string `json:"text_message"`

	FilterType string `json:"filter_type"`
	Subscribed bool   `json:"subscribed"`
	EmailsFile []byte `json:"emails"` // uploaded file content
	EmailsList string `json:"emails_list"`
	ToMyself   bool   `json:"to_myself"`

	SessionIDs       []int    `json:"session_filter"`
	CourseIDs        []int    `json:"course_filter"`
	UniversityIDs    []int    `json:"university_filter"`
	Instructors      string   `json:"instructors_filter"`
	LastLoginFrom    string   `json:"last_login_from"`
	LastLoginTo      string   `json:"last_login_to"`
	RegisterDateFrom string   `json:"register_date_from"`
	RegisterDateTo   string   `json:"register_date_to"`
	EnrollmentType   []string `json:"enrollment_type"`
	GotCertificate   []string `json:"got_certificate"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateCampaignInput checks message fields and the recipient filter
// together and reports every problem at once.
func ValidateCampaignInput(in FilterInput) (model.FilterSpec, error) {
	ve := &appErrors.ValidationError{}

	if err := validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return model.FilterSpec{}, err
		}
		for _, fe := range fieldErrs {
			ve.Add(fe.Field(), fieldMessage(fe))
		}
	}
	if in.HTMLMessage != "" {
		if err := CheckHTMLTemplate(in.HTMLMessage); err != nil {
			ve.Add("html_message", msgBadHTML)
		}
	}
	if in.Subject != "" {
		if err := CheckTextTemplate(in.Subject); err != nil {
			ve.Add("subject", msgBadSubject)
		}
	}
	if in.TextMessage != "" {
		if err := CheckTextTemplate(in.TextMessage); err != nil {
			ve.Add("text_message", msgBadText)
		}
	}

	spec := validateFilter(in, ve)
	if err := ve.OrNil(); err != nil {
		return model.FilterSpec{}, err
	}
	return spec, nil
}

// ValidateFilter normalizes only the recipient filter part of the form.
func ValidateFilter(in FilterInput) (model.FilterSpec, error) {
	ve := &appErrors.ValidationError{}
	spec := validateFilter(in, ve)
	if err := ve.OrNil(); err != nil {
		return model.FilterSpec{}, err
	}
	return spec, nil
}

func validateFilter(in FilterInput, ve *appErrors.ValidationError) model.FilterSpec {
	// Everything starts at its default; only the chosen mode's fields are
	// read from input so stale values from other modes never leak through.
	spec := model.DefaultRules()
	spec.Mode = model.FilterMode(in.FilterType)
	spec.Subscribed = in.Subscribed

	switch spec.Mode {
	case "":
		if !in.Subscribed {
			ve.AddNonField(msgNoFilter)
		}
	case model.ModeEmail:
		if strings.TrimSpace(in.EmailsList) == "" {
			ve.Add("emails_list", msgRequired)
			break
		}
		emails, invalid := SplitEmails(in.EmailsList)
		if len(invalid) > 0 {
			ve.Add("emails_list", invalidEmailsMessage(invalid))
		}
		spec.EmailsList = emails
	case model.ModeFile:
		if len(in.EmailsFile) == 0 {
			ve.Add("emails", msgRequired)
			break
		}
		if !utf8.Valid(in.EmailsFile) {
			ve.Add("emails", msgBadFile)
			break
		}
		emails, invalid := SplitEmails(string(in.EmailsFile))
		if len(emails) == 0 && len(invalid) == 0 {
			ve.Add("emails", msgBadFile)
			break
		}
		if len(invalid) > 0 {
			ve.Add("emails", invalidEmailsMessage(invalid))
		}
		spec.Emails = emails
	case model.ModeSelf:
		spec.ToMyself = true
	case model.ModeDefault:
		validateRules(in, &spec, ve)
	default:
		ve.Add("filter_type", msgBadChoice)
	}
	return spec
}

func validateRules(in FilterInput, spec *model.FilterSpec, ve *appErrors.ValidationError) {
	spec.SessionIDs = in.SessionIDs
	spec.CourseIDs = in.CourseIDs
	spec.UniversityIDs = in.UniversityIDs

	switch in.Instructors {
	case model.InstructorsAll, model.InstructorsExclude, model.InstructorsOnly:
		spec.Instructors = in.Instructors
	default:
		ve.Add("instructors_filter", msgBadChoice)
	}

	loginFromOK := parseDateField(in.LastLoginFrom, "last_login_from", &spec.LastLoginFrom, ve)
	loginToOK := parseDateField(in.LastLoginTo, "last_login_to", &spec.LastLoginTo, ve)
	regFromOK := parseDateField(in.RegisterDateFrom, "register_date_from", &spec.RegisterFrom, ve)
	regToOK := parseDateField(in.RegisterDateTo, "register_date_to", &spec.RegisterTo, ve)

	if loginFromOK && loginToOK && spec.LastLoginFrom.After(spec.LastLoginTo.Time) {
		ve.AddNonField(msgLoginRange)
	}
	if regFromOK && regToOK && spec.RegisterFrom.After(spec.RegisterTo.Time) {
		ve.AddNonField(msgRegisterRange)
	}

	if len(in.EnrollmentType) == 0 {
		ve.Add("enrollment_type", msgRequired)
	} else if validChoices(in.EnrollmentType) {
		spec.EnrollmentType = in.EnrollmentType
	} else {
		ve.Add("enrollment_type", msgBadChoice)
	}

	if validChoices(in.GotCertificate) {
		spec.GotCertificate = in.GotCertificate
	} else {
		ve.Add("got_certificate", msgBadChoice)
	}
}

// parseDateField leaves dst at its default for empty input.
func parseDateField(raw, field string, dst *model.Date, ve *appErrors.ValidationError) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return true
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		ve.Add(field, msgBadDate)
		return false
	}
	*dst = d
	return true
}

func validChoices(values []string) bool {
	for _, v := range values {
		if v != model.EnrollmentPaid && v != model.EnrollmentFree {
			return false
		}
	}
	return true
}

// SplitEmails splits on newlines and semicolons, trims and drops empties.
// Every invalid address is returned, not just the first.
func SplitEmails(raw string) (valid, invalid []string) {
	for _, line := range strings.Split(raw, "\n") {
		for _, part := range strings.Split(line, ";") {
			addr := strings.TrimSpace(part)
			if addr == "" {
				continue
			}
			if err := validate.Var(addr, "email"); err != nil {
				invalid = append(invalid, addr)
				continue
			}
			valid = append(valid, addr)
		}
	}
	return valid, invalid
}

func invalidEmailsMessage(invalid []string) string {
	return "the following emails are invalid: " + strings.Join(invalid, ", ")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return msgRequired
	case "max":
		return fmt.Sprintf("ensure this value has at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}

// CheckHTMLTemplate parses body and renders it against an empty context.
// It checks syntax only, not content.
func CheckHTMLTemplate(body string) error {
	t, err := htmltemplate.New("html").Parse(body)
	if err != nil {
		return err
	}
	return t.Execute(io.Discard, emptyRenderContext())
}

// CheckTextTemplate is CheckHTMLTemplate for subjects and plain-text bodies.
func CheckTextTemplate(body string) error {
	t, err := texttemplate.New("text").Parse(body)
	if err != nil {
		return err
	}
	return t.Execute(io.Discard, emptyRenderContext())
}
