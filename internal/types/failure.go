package types

// FailureClass is the four-way classification every backend error is reduced
// to before it leaves an adapter.
type FailureClass string

const (
	FailureRateLimited FailureClass = "rate_limited"
	FailureAuth        FailureClass = "auth_failed"
	FailureBadRequest  FailureClass = "bad_request"
	FailureOther       FailureClass = "other"
)

// Aborts reports whether a failure of this class ends the whole fallback chain.
func (c FailureClass) Aborts() bool {
	return c == FailureAuth
}

// Exhausted returns the class an adapter reports once it has no variants left
// to try after a failure of class c.
func (c FailureClass) Exhausted() FailureClass {
	switch c {
	case FailureRateLimited, FailureAuth:
		return c
	default:
		return FailureOther
	}
}
