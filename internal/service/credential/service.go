// Package credential issues, validates and administers API credentials.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/jmehdipour/keygate/internal/metrics"
	"github.com/jmehdipour/keygate/internal/model"
	"github.com/jmehdipour/keygate/internal/repository"
	"github.com/jmehdipour/keygate/internal/usage"
	"github.com/jmehdipour/keygate/internal/util"
	"go.uber.org/zap"
)

const (
	DefaultExpiryGrace = 30 * 24 * time.Hour
	minRecordTTL       = time.Hour
)

// Publisher receives lifecycle events. Implementations must not block.
type Publisher interface {
	Publish(ctx context.Context, e model.Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, model.Event) {}

// IssueOptions tunes a single issuance. Zero values fall back to defaults:
// a generated id, start = now, end from Term (or the service default term).
type IssueOptions struct {
	ID    string
	Start time.Time
	End   time.Time
	Term  Term
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.pub = p
		}
	}
}

// WithExpiryGrace sets how long a record outlives its subscription end in the store.
func WithExpiryGrace(d time.Duration) Option {
	return func(s *Service) { s.grace = d }
}

func WithDefaultTerm(t Term) Option {
	return func(s *Service) { s.defaultTerm = t }
}

// Service is the credential lifecycle manager. It holds no per-credential
// state; everything lives in the repository.
type Service struct {
	repo     repository.CredentialsRepository
	log      *zap.Logger
	validate *validator.Validate
	pub      Publisher

	now         func() time.Time
	grace       time.Duration
	defaultTerm Term
}

func New(repo repository.CredentialsRepository, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		repo:        repo,
		log:         log,
		validate:    newValidator(),
		pub:         noopPublisher{},
		now:         time.Now,
		grace:       DefaultExpiryGrace,
		defaultTerm: Term1Year,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// recordTTL keeps a record around for the grace period after its subscription ends.
func (s *Service) recordTTL(end time.Time) time.Duration {
	ttl := end.Add(s.grace).Sub(s.now())
	if ttl < minRecordTTL {
		return minRecordTTL
	}
	return ttl
}

func (s *Service) publish(ctx context.Context, t model.EventType, id, reason string) {
	s.pub.Publish(ctx, model.Event{
		ID:         util.NewID(s.now()),
		Type:       t,
		Credential: model.Fingerprint(id),
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	})
}

// Issue validates the owner data and subscription window and stores a new
// active credential. It returns the credential id.
func (s *Service) Issue(ctx context.Context, owner model.OwnerData, opts IssueOptions) (string, error) {
	owner = normalizeOwner(owner)
	if err := checkStruct(s.validate, owner); err != nil {
		return "", err
	}

	now := s.now()
	start := opts.Start
	if start.IsZero() {
		start = now
	}
	end := opts.End
	if end.IsZero() {
		term := opts.Term
		if term == "" {
			term = s.defaultTerm
		}
		end = term.End(start)
	}
	if err := checkWindow(start, end, now); err != nil {
		return "", err
	}

	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = util.NewID(now)
	}

	c := &model.Credential{
		ID:                id,
		OwnerName:         owner.OwnerName,
		ContactName:       owner.ContactName,
		ContactPhone:      owner.ContactPhone,
		BillingInfo:       owner.BillingInfo,
		Active:            true,
		SubscriptionStart: start,
		SubscriptionEnd:   end,
		RequestHistory:    map[string]int{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Create(ctx, c, s.recordTTL(end)); err != nil {
		if errors.Is(err, repository.ErrExists) {
			return "", ErrDuplicateID
		}
		s.log.Error("issue credential", zap.String("key", model.KeyPrefix(id, 8)), zap.Error(err))
		return "", err
	}

	metrics.CredentialsIssuedTotal.Inc()
	s.publish(ctx, model.EventIssued, id, "")
	s.log.Info("credential issued",
		zap.String("key", model.KeyPrefix(id, 8)),
		zap.String("owner", c.OwnerName),
		zap.Time("subscription_end", end),
	)
	return id, nil
}

func (s *Service) reject(ctx context.Context, id string, reason model.Reason) model.ValidationResult {
	metrics.ValidationsTotal.WithLabelValues(reason.String()).Inc()
	s.publish(ctx, model.EventRejected, id, reason.String())
	return model.ValidationResult{Valid: false, Reason: reason}
}

// Validate checks a presented credential and, when it is usable, records one
// request against it. Negative outcomes are reported in the result; the error
// is reserved for store failures.
func (s *Service) Validate(ctx context.Context, id string) (model.ValidationResult, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		metrics.ValidationsTotal.WithLabelValues("error").Inc()
		return model.ValidationResult{}, err
	}
	if c == nil {
		return s.reject(ctx, id, model.ReasonNotFound), nil
	}

	now := s.now()
	// expiry wins over the active flag
	if c.ExpiredAt(now) {
		return s.reject(ctx, id, model.ReasonExpired), nil
	}
	if !c.Active {
		return s.reject(ctx, id, model.ReasonInactive), nil
	}

	history, totals := usage.Record(c.RequestHistory, now)
	c.RequestHistory = history
	c.DailyRequests = totals.Daily
	c.MonthlyRequests = totals.Monthly
	c.LastAccess = &now
	c.UpdatedAt = now

	if err := s.repo.Save(ctx, c); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.reject(ctx, id, model.ReasonNotFound), nil
		}
		metrics.ValidationsTotal.WithLabelValues("error").Inc()
		return model.ValidationResult{}, err
	}

	metrics.ValidationsTotal.WithLabelValues("valid").Inc()
	s.publish(ctx, model.EventValidated, id, "")

	return model.ValidationResult{
		Valid: true,
		Summary: &model.Summary{
			OwnerName:       c.OwnerName,
			ContactName:     c.ContactName,
			SubscriptionEnd: c.SubscriptionEnd,
			DailyRequests:   c.DailyRequests,
			MonthlyRequests: c.MonthlyRequests,
			LastAccess:      now,
		},
	}, nil
}

func (s *Service) Activate(ctx context.Context, id string) (bool, error) {
	return s.setActive(ctx, id, true, "")
}

func (s *Service) Deactivate(ctx context.Context, id string) (bool, error) {
	return s.setActive(ctx, id, false, "")
}

// Expire deactivates a credential whose subscription has ended.
func (s *Service) Expire(ctx context.Context, id string) (bool, error) {
	return s.setActive(ctx, id, false, model.ReasonExpired.String())
}

func (s *Service) setActive(ctx context.Context, id string, active bool, reason string) (bool, error) {
	action, event := "activate", model.EventActivated
	if !active {
		action, event = "deactivate", model.EventDeactivated
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}

	c.Active = active
	c.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, c); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	metrics.StateChangesTotal.WithLabelValues(action).Inc()
	s.publish(ctx, event, id, reason)
	s.log.Info("credential "+action+"d",
		zap.String("key", model.KeyPrefix(id, 8)),
		zap.String("reason", reason),
	)
	return true, nil
}

// Update applies the fields present in p. Id and usage counters are never touched.
func (s *Service) Update(ctx context.Context, id string, p model.Patch) (bool, error) {
	p = normalizePatch(p)
	if err := checkStruct(s.validate, p); err != nil {
		return false, err
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}

	applyPatch(c, p)

	if p.SubscriptionStart != nil || p.SubscriptionEnd != nil {
		if err := checkUpdatedWindow(c.SubscriptionStart, c.SubscriptionEnd); err != nil {
			return false, err
		}
	}

	c.UpdatedAt = s.now()
	if err := s.repo.Put(ctx, c, s.recordTTL(c.SubscriptionEnd)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	metrics.StateChangesTotal.WithLabelValues("update").Inc()
	s.publish(ctx, model.EventUpdated, id, "")
	s.log.Info("credential updated", zap.String("key", model.KeyPrefix(id, 8)))
	return true, nil
}

func applyPatch(c *model.Credential, p model.Patch) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}

	set(&c.OwnerName, p.OwnerName)
	set(&c.ContactName, p.ContactName)
	set(&c.ContactPhone, p.ContactPhone)

	if b := p.BillingInfo; b != nil {
		if c.BillingInfo == nil {
			c.BillingInfo = &model.BillingInfo{}
		}
		set(&c.BillingInfo.CompanyName, b.CompanyName)
		set(&c.BillingInfo.ContactName, b.ContactName)
		set(&c.BillingInfo.TaxOffice, b.TaxOffice)
		set(&c.BillingInfo.TaxNumber, b.TaxNumber)
		set(&c.BillingInfo.Address, b.Address)
		set(&c.BillingInfo.Email, b.Email)
	}

	if p.SubscriptionStart != nil {
		c.SubscriptionStart = *p.SubscriptionStart
	}
	if p.SubscriptionEnd != nil {
		c.SubscriptionEnd = *p.SubscriptionEnd
	}
}

// List returns every stored credential, oldest first. Index entries whose
// record has expired are dropped from the index on the way.
func (s *Service) List(ctx context.Context) ([]model.View, error) {
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	found, missing, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	if len(missing) > 0 {
		if err := s.repo.RemoveFromIndex(ctx, missing...); err != nil {
			s.log.Warn("prune credential index", zap.Int("missing", len(missing)), zap.Error(err))
		} else {
			s.log.Debug("pruned credential index", zap.Int("missing", len(missing)))
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].CreatedAt.Before(found[j].CreatedAt)
	})

	views := make([]model.View, 0, len(found))
	for _, c := range found {
		views = append(views, model.NewView(c))
	}
	return views, nil
}

// GetDetails returns nil when the credential does not exist.
func (s *Service) GetDetails(ctx context.Context, id string) (*model.Details, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil || c == nil {
		return nil, err
	}
	return model.NewDetails(c), nil
}

// Purge physically removes a credential and its index entry.
func (s *Service) Purge(ctx context.Context, id string) (bool, error) {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("purge: %w", err)
	}
	if ok {
		metrics.StateChangesTotal.WithLabelValues("purge").Inc()
		s.publish(ctx, model.EventPurged, id, "")
		s.log.Info("credential purged", zap.String("key", model.KeyPrefix(id, 8)))
	}
	return ok, nil
}

// Count reports how many credentials are indexed.
func (s *Service) Count(ctx context.Context) (int, error) {
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
