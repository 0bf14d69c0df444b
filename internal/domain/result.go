package domain

// ErrorKind classifies why a probe did not succeed.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindTimeout     ErrorKind = "timeout"
	KindNetwork     ErrorKind = "network"
	KindHTTPStatus  ErrorKind = "http_status"
	KindCircuitOpen ErrorKind = "circuit_open"
	KindCanceled    ErrorKind = "canceled"
)

// CircuitOpenMessage is the error text recorded for probes skipped by an
// open breaker.
const CircuitOpenMessage = "circuit open"

// Label is a short human string for presentation layers.
func (k ErrorKind) Label() string {
	switch k {
	case KindNone:
		return "up"
	case KindTimeout:
		return "down (timeout)"
	case KindNetwork:
		return "down (unreachable)"
	case KindHTTPStatus:
		return "down (bad status)"
	case KindCircuitOpen:
		return "skipped (breaker open)"
	case KindCanceled:
		return "canceled"
	}
	return string(k)
}
