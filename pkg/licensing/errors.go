package licensing

import (
	"fmt"
	"time"

	"ispbss/pkg/errutil"
)

var (
	ErrLicenseExpired        = errutil.Sentinel(errutil.StatusUnprocessableEntity, "license expired")
	ErrLicenseInvalid        = errutil.Sentinel(errutil.StatusBadRequest, "license invalid")
	ErrLicenseRollback       = errutil.Sentinel(errutil.StatusConflict, "license version rollback")
	ErrSubscriberCapExceeded = errutil.Sentinel(errutil.StatusForbidden, "subscriber limit reached")
	ErrFeatureNotLicensed    = errutil.Sentinel(errutil.StatusForbidden, "feature not available on current plan")
	ErrNoLicense             = errutil.Sentinel(errutil.StatusServiceUnavailable, "no license available")
)

// ExpiredError reports a correctly signed token whose exp is in the past.
// Token holds the decoded claims so callers can apply a grace period.
type ExpiredError struct {
	Token *Token
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("license expired at %s", e.Token.ExpiresAt.UTC().Format(time.RFC3339))
}

func (e *ExpiredError) Is(target error) bool       { return target == ErrLicenseExpired }
func (e *ExpiredError) Status() errutil.CoreStatus { return errutil.StatusUnprocessableEntity }

// InvalidError reports a token that failed verification or validation.
type InvalidError struct {
	Reason string
	Err    error
}

func (e *InvalidError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("license invalid: %s: %v", e.Reason, e.Err)
	}
	return "license invalid: " + e.Reason
}

func (e *InvalidError) Is(target error) bool       { return target == ErrLicenseInvalid }
func (e *InvalidError) Unwrap() error              { return e.Err }
func (e *InvalidError) Status() errutil.CoreStatus { return errutil.StatusBadRequest }

func invalid(reason string, err error) error {
	return &InvalidError{Reason: reason, Err: err}
}

type CapExceededError struct {
	Current int
	Max     int
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("subscriber limit reached (%d/%d)", e.Current, e.Max)
}

func (e *CapExceededError) Is(target error) bool       { return target == ErrSubscriberCapExceeded }
func (e *CapExceededError) Status() errutil.CoreStatus { return errutil.StatusForbidden }

type FeatureNotLicensedError struct {
	Feature string
}

func (e *FeatureNotLicensedError) Error() string {
	return fmt.Sprintf("feature %q not available on current plan", e.Feature)
}

func (e *FeatureNotLicensedError) Is(target error) bool       { return target == ErrFeatureNotLicensed }
func (e *FeatureNotLicensedError) Status() errutil.CoreStatus { return errutil.StatusForbidden }
