package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrForbidden         = errors.New("not allowed to control this room")
	ErrInvalidInput      = errors.New("invalid input")
	ErrStoreUnavailable  = errors.New("room store unavailable")
	ErrVersionConflict   = errors.New("room version conflict")
	ErrRateLimited       = errors.New("too many commands")
)

// Reason codes sent to clients in room:error.
const (
	ReasonNotFound         = "not_found"
	ReasonConflict         = "conflict"
	ReasonForbidden        = "forbidden"
	ReasonInvalid          = "invalid"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonRateLimited      = "rate_limited"
)

// Reason maps an error to the reason code reported to the originating client.
// Anything unrecognised is reported as a store failure since it is transient
// from the caller's point of view.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrRoomAlreadyExists):
		return ReasonConflict
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	case errors.Is(err, ErrInvalidInput):
		return ReasonInvalid
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	default:
		return ReasonStoreUnavailable
	}
}
