package routing

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
)

var (
	ErrInvalidRT = errors.New("invalid route target")
	ErrInvalidRD = errors.New("invalid route distinguisher")
)

// ParseRT validates a route-target string ("65000:100", "1.2.3.4:56", ...)
// and returns its canonical form.
func ParseRT(s string) (string, error) {
	rt, err := bgp.ParseRouteTarget(s)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidRT, s, err)
	}
	return rt.String(), nil
}

// ParseRTs canonicalizes a list of route targets, aggregating all parse
// failures.
func ParseRTs(list []string) ([]string, error) {
	var merr error
	result := make([]string, 0, len(list))
	for _, s := range list {
		rt, err := ParseRT(s)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		result = append(result, rt)
	}
	if merr != nil {
		return nil, merr
	}
	return result, nil
}

// ParseRD validates a route-distinguisher string and returns its canonical
// form.
func ParseRD(s string) (string, error) {
	rd, err := bgp.ParseRouteDistinguisher(s)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidRD, s, err)
	}
	return rd.String(), nil
}
