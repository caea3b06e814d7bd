package controlplane

import "fmt"

// Kind classifies a control-plane failure for retry and shutdown logic.
type Kind int

const (
	// KindTransient covers 424, 5xx and network-level failures; callers
	// inside the client retry these indefinitely.
	KindTransient Kind = iota
	// KindAuth covers a 401 that survived one token refresh.
	KindAuth
	// KindNotFound covers 404/422; surfaced as empty results, not errors.
	KindNotFound
	// KindPermanent covers every other non-2xx response.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	default:
		return "permanent"
	}
}

// Error is a typed control-plane failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Op         string
	Detail     string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("control plane %s: %s (%d): %s", e.Op, e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("control plane %s: %s: %s", e.Op, e.Kind, e.Detail)
}

func classify(status int) Kind {
	switch {
	case status == 401:
		return KindAuth
	case status == 404 || status == 422:
		return KindNotFound
	case status == 424 || status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
