package credential

import (
	"fmt"
	"strings"
	"time"
)

// Term is a quick subscription length used when no explicit end is given.
type Term string

const (
	Term14Days Term = "14_days"
	Term1Month Term = "1_month"
	Term1Year  Term = "1_year"
	Term2Years Term = "2_years"
)

func ParseTerm(s string) (Term, error) {
	switch t := Term(strings.ToLower(strings.TrimSpace(s))); t {
	case Term14Days, Term1Month, Term1Year, Term2Years:
		return t, nil
	case "":
		return Term1Year, nil
	default:
		return "", fmt.Errorf("unknown subscription term %q", s)
	}
}

// End returns the subscription end for a term starting at from.
func (t Term) End(from time.Time) time.Time {
	switch t {
	case Term14Days:
		return from.AddDate(0, 0, 14)
	case Term1Month:
		return from.AddDate(0, 1, 0)
	case Term2Years:
		return from.AddDate(2, 0, 0)
	default:
		return from.AddDate(1, 0, 0)
	}
}
