package credential

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/jmehdipour/keygate/internal/model"
	"github.com/jmehdipour/keygate/internal/util"
)

const (
	maxStartAge = 1 // years
	maxSpan     = 5 // years
)

func newValidator() *validator.Validate {
	v := validator.New()

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return util.ValidPhone(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register phone validation: %v", err))
	}

	return v
}

// checkStruct runs the struct tags and collects every violation.
func checkStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	violations := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, describe(fe))
	}
	return &ValidationError{Violations: violations}
}

func describe(fe validator.FieldError) string {
	// drop the root struct name: "OwnerData.billing_info.email" -> "billing_info.email"
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "phone":
		return field + " must be a valid mobile number (+90 5XX XXX XX XX)"
	case "email":
		return field + " must be a valid email address"
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

func normalizeOwner(o model.OwnerData) model.OwnerData {
	o.OwnerName = strings.TrimSpace(o.OwnerName)
	o.ContactName = strings.TrimSpace(o.ContactName)
	o.ContactPhone = util.NormalizePhone(o.ContactPhone)
	if o.BillingInfo != nil {
		b := *o.BillingInfo
		b.CompanyName = strings.TrimSpace(b.CompanyName)
		b.ContactName = strings.TrimSpace(b.ContactName)
		b.TaxOffice = strings.TrimSpace(b.TaxOffice)
		b.TaxNumber = strings.TrimSpace(b.TaxNumber)
		b.Address = strings.TrimSpace(b.Address)
		b.Email = strings.TrimSpace(b.Email)
		o.BillingInfo = &b
	}
	return o
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func normalizePatch(p model.Patch) model.Patch {
	p.OwnerName = trimPtr(p.OwnerName)
	p.ContactName = trimPtr(p.ContactName)
	if p.ContactPhone != nil {
		v := util.NormalizePhone(*p.ContactPhone)
		p.ContactPhone = &v
	}
	if p.BillingInfo != nil {
		b := *p.BillingInfo
		b.CompanyName = trimPtr(b.CompanyName)
		b.ContactName = trimPtr(b.ContactName)
		b.TaxOffice = trimPtr(b.TaxOffice)
		b.TaxNumber = trimPtr(b.TaxNumber)
		b.Address = trimPtr(b.Address)
		b.Email = trimPtr(b.Email)
		p.BillingInfo = &b
	}
	return p
}

// checkWindow applies the issuance rules to a subscription window.
func checkWindow(start, end, now time.Time) error {
	if !end.After(start) {
		return &DateRangeError{Rule: RuleEndNotAfterStart}
	}
	if !end.After(now) {
		return &DateRangeError{Rule: RuleEndNotInFuture}
	}
	if start.Before(now.AddDate(-maxStartAge, 0, 0)) {
		return &DateRangeError{Rule: RuleStartTooOld}
	}
	if end.After(start.AddDate(maxSpan, 0, 0)) {
		return &DateRangeError{Rule: RuleSpanTooLong}
	}
	return nil
}

// checkUpdatedWindow is the subset of rules that still applies to an existing
// credential whose start may legitimately be long past.
func checkUpdatedWindow(start, end time.Time) error {
	if !end.After(start) {
		return &DateRangeError{Rule: RuleEndNotAfterStart}
	}
	if end.After(start.AddDate(maxSpan, 0, 0)) {
		return &DateRangeError{Rule: RuleSpanTooLong}
	}
	return nil
}
