package repository

import (
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/lib/pq"

	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation, optionally restricted to a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	if constraint == "" {
		return true
	}
	return strings.Contains(pqErr.Constraint, constraint)
}

// isUnavailable reports whether err signals a transient store outage: broken
// connections and PostgreSQL connection/shutdown error classes.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := pqErr.Code.Class()
		return class == "08" || class == "57"
	}
	return false
}

// mapDBError surfaces transient failures as the retryable DB_UNAVAILABLE kind
// so clients can distinguish them from internal errors.
func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return appErrors.Wrap(err, appErrors.ErrDBUnavailable.Code, appErrors.ErrDBUnavailable.Status, appErrors.ErrDBUnavailable.Message)
	}
	return err
}
