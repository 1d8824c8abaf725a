// Package directory talks to the upstream course/enrollment service which
// knows who is enrolled in which course, session and university.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrUnavailable is returned for any failure to reach the directory or to
// understand its answer.
var ErrUnavailable = errors.New("enrollment directory unavailable")

type EnrollmentQuery struct {
	SessionIDs      []int    `json:"sessions,omitempty"`
	CourseIDs       []int    `json:"courses,omitempty"`
	UniversityIDs   []int    `json:"universities,omitempty"`
	EnrollmentTypes []string `json:"enrollment_types,omitempty"`
	Certificates    []string `json:"certificates,omitempty"`
}

type Directory interface {
	EnrolledEmails(ctx context.Context, q EnrollmentQuery) ([]string, error)
}

type HTTPDirectory struct {
	BaseURL string
	Client  *http.Client
	Log     *logrus.Logger
}

func NewHTTPDirectory(baseURL string, timeout time.Duration, log *logrus.Logger) *HTTPDirectory {
	return &HTTPDirectory{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
		Log:     log,
	}
}

type enrolledResponse struct {
	Emails []string `json:"emails"`
}

func (d *HTTPDirectory) EnrolledEmails(ctx context.Context, q EnrollmentQuery) ([]string, error) {
	if d.BaseURL == "" {
		return nil, fmt.Errorf("no directory url configured: %w", ErrUnavailable)
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/enrollments/emails", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		d.Log.WithError(err).Warn("enrollment directory request failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.Log.WithField("status", resp.StatusCode).Warn("enrollment directory returned non-200")
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out enrolledResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return out.Emails, nil
}

var _ Directory = (*HTTPDirectory)(nil)
