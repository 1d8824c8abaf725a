package service

import (
	"context"
	"fmt"

	"github.com/modfin/henry/slicez"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/supportmail-backend/internal/directory"
	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/metrics"
	"github.com/unclebandit/supportmail-backend/internal/model"
	"github.com/unclebandit/supportmail-backend/internal/repository"
)

type ResolutionKind string

const (
	KindToSelf   ResolutionKind = "to-self"
	KindToAll    ResolutionKind = "to-all"
	KindFiltered ResolutionKind = "filtered"
	KindList     ResolutionKind = "list"
	KindError    ResolutionKind = "error"
)

// Resolution is the concrete, deduplicated recipient list of a filter.
type Resolution struct {
	Emails []string       `json:"-"`
	Kind   ResolutionKind `json:"kind"`
}

func (r Resolution) Count() int {
	return len(r.Emails)
}

type RecipientResolver struct {
	Users     repository.UserRepositoryInterface
	Directory directory.Directory
	Log       *logrus.Logger
}

// Resolve computes recipients without touching the campaign row.
// Explicit lists are sent as given; optouts only filter rule-based selections.
func (r *RecipientResolver) Resolve(ctx context.Context, senderEmail string, spec model.FilterSpec) (Resolution, error) {
	res, err := r.resolve(ctx, senderEmail, spec)
	metrics.Resolutions.WithLabelValues(string(res.Kind)).Inc()
	return res, err
}

func (r *RecipientResolver) resolve(ctx context.Context, senderEmail string, spec model.FilterSpec) (Resolution, error) {
	switch {
	case spec.ToMyself || spec.Mode == model.ModeSelf:
		return Resolution{Emails: []string{senderEmail}, Kind: KindToSelf}, nil
	case spec.Mode == model.ModeEmail:
		return Resolution{Emails: Dedupe(spec.EmailsList), Kind: KindList}, nil
	case spec.Mode == model.ModeFile:
		return Resolution{Emails: Dedupe(spec.Emails), Kind: KindList}, nil
	case spec.RuleBased():
		return r.resolveRules(ctx, spec)
	default:
		return Resolution{Kind: KindError}, fmt.Errorf("unknown filter mode %q", spec.Mode)
	}
}

func (r *RecipientResolver) resolveRules(ctx context.Context, spec model.FilterSpec) (Resolution, error) {
	emails, err := r.Users.MatchEmails(ctx, spec)
	if err != nil {
		return Resolution{Kind: KindError}, fmt.Errorf("match users: %w", err)
	}

	if spec.HasEnrollmentRules() {
		enrolled, err := r.Directory.EnrolledEmails(ctx, directory.EnrollmentQuery{
			SessionIDs:      spec.SessionIDs,
			CourseIDs:       spec.CourseIDs,
			UniversityIDs:   spec.UniversityIDs,
			EnrollmentTypes: spec.EnrollmentType,
			Certificates:    spec.GotCertificate,
		})
		if err != nil {
			r.Log.WithError(err).Warn("⚠️ enrollment directory lookup failed")
			return Resolution{Kind: KindError}, fmt.Errorf("%w: %v", appErrors.ErrResolution, err)
		}
		emails = intersect(emails, enrolled)
	}

	kind := KindFiltered
	if spec.Unconstrained() {
		kind = KindToAll
	}
	return Resolution{Emails: Dedupe(emails), Kind: kind}, nil
}

// ResolveCampaign resolves a campaign's stored filter. Like Resolve it has
// no side effect; the count is stored when the campaign is confirmed.
func (r *RecipientResolver) ResolveCampaign(ctx context.Context, c *model.Campaign) (Resolution, error) {
	spec := c.Target
	if c.ToMyself {
		spec.ToMyself = true
	}
	return r.Resolve(ctx, c.SenderEmail, spec)
}

// Dedupe keeps the first occurrence of each address, preserving order.
// Comparison is exact.
func Dedupe(emails []string) []string {
	return slicez.Uniq(emails)
}

func intersect(users, enrolled []string) []string {
	allowed := make(map[string]struct{}, len(enrolled))
	for _, e := range enrolled {
		allowed[e] = struct{}{}
	}
	out := make([]string, 0, len(users))
	for _, e := range users {
		if _, ok := allowed[e]; ok {
			out = append(out, e)
		}
	}
	return out
}
