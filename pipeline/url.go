package pipeline

import (
	"fmt"
	"strings"

	"github.com/c360/eventflow/errors"
)

// Addr names an endpoint of a pipeline link: a node instance plus one
// of its ports, written "instance/port". The port defaults for the
// obvious cases so configs can name bare instances.
type Addr struct {
	Instance string
	Port     string
}

// ParseAddr parses "instance/port" or a bare "instance".
func ParseAddr(s string) (Addr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Addr{}, errors.WrapInvalid(errors.ErrMissingPort, "pipeline", "ParseAddr", "empty address")
	}
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		return Addr{Instance: parts[0]}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return Addr{}, errors.WrapInvalid(errors.ErrMissingPort, "pipeline", "ParseAddr",
				fmt.Sprintf("malformed address %q", s))
		}
		return Addr{Instance: parts[0], Port: parts[1]}, nil
	default:
		return Addr{}, errors.WrapInvalid(errors.ErrMissingPort, "pipeline", "ParseAddr",
			fmt.Sprintf("malformed address %q", s))
	}
}

// PortOr returns the explicit port or the given default.
func (a Addr) PortOr(def string) string {
	if a.Port == "" {
		return def
	}
	return a.Port
}

func (a Addr) String() string {
	if a.Port == "" {
		return a.Instance
	}
	return a.Instance + "/" + a.Port
}

// Well-known port names.
const (
	PortIn       = "in"
	PortOut      = "out"
	PortErr      = "err"
	PortOverflow = "overflow"
)
