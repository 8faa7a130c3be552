package credential

import (
	"errors"
	"strings"

	"github.com/jmehdipour/keygate/internal/repository"
)

var (
	ErrDuplicateID = errors.New("credential id already exists")

	// ErrStoreUnavailable is the store's error, re-exported for callers of this package.
	ErrStoreUnavailable = repository.ErrStoreUnavailable
)

// ValidationError lists every problem found in an issuance or update payload.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid credential data: " + strings.Join(e.Violations, "; ")
}

type DateRule string

const (
	RuleEndNotAfterStart DateRule = "end_not_after_start"
	RuleEndNotInFuture   DateRule = "end_not_in_future"
	RuleStartTooOld      DateRule = "start_too_old"
	RuleSpanTooLong      DateRule = "span_too_long"
)

var dateRuleText = map[DateRule]string{
	RuleEndNotAfterStart: "subscription end must be after subscription start",
	RuleEndNotInFuture:   "subscription end must be in the future",
	RuleStartTooOld:      "subscription start cannot be more than 1 year in the past",
	RuleSpanTooLong:      "subscription cannot be longer than 5 years",
}

// DateRangeError reports which subscription window rule was broken.
type DateRangeError struct {
	Rule DateRule
}

func (e *DateRangeError) Error() string {
	return "invalid subscription window: " + dateRuleText[e.Rule]
}
