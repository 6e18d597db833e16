package app

import "errors"

var (
	// ErrUnauthorized covers every token or account failure. Handlers answer
	// with one generic message so callers cannot tell the cases apart.
	ErrUnauthorized = errors.New("could not validate credentials")

	ErrInvalidPhone   = errors.New("phone number format is invalid")
	ErrInvalidOTP     = errors.New("verification code is invalid or expired")
	ErrOTPRateLimited = errors.New("too many verification code requests")
	ErrUserInactive   = errors.New("user inactive")

	ErrInvalidRecord  = errors.New("invalid record")
	ErrInvalidProfile = errors.New("invalid profile")
	ErrInvalidDate    = errors.New("date must be formatted as YYYY-MM-DD")
	ErrInvalidLimit   = errors.New("limit must be a positive integer")

	// ErrReportNotFound means the requested date has no records.
	ErrReportNotFound = errors.New("no records for this date, report unavailable")
)
