package gputopo

import (
	"strconv"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/topo"
)

func errUnsupportedDomain(domain topo.Domain) error {
	return geopmerr.New(geopmerr.DomainMismatch, "gputopo", domain.String())
}

func errIndexRange(idx int) error {
	return geopmerr.New(geopmerr.DomainIndexOutOfRange, "gputopo", strconv.Itoa(idx))
}
