// Package dgconsensustest contains fixtures for exercising the
// consensus packages in tests.
package dgconsensustest

import (
	"fmt"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridian-engine/meridian/dg/dgconsensus"
	"github.com/meridian-engine/meridian/dg/dgmetrics"
)

// NewCommittee returns a committee of size authorities with one unit
// of stake each and generated hostnames.
func NewCommittee(size int) *dgconsensus.Committee {
	authorities := make([]dgconsensus.Authority, size)
	for i := range authorities {
		authorities[i] = dgconsensus.Authority{
			Stake:    1,
			Hostname: fmt.Sprintf("%s-%d", petname.Generate(2, "-"), i),
		}
	}
	return dgconsensus.NewCommittee(authorities)
}

// NewContext returns a context over a [NewCommittee] committee of the
// given size, observing as authority 0, with metrics registered on a
// fresh registry.
func NewContext(size int) *dgconsensus.Context {
	return &dgconsensus.Context{
		OwnIndex:  0,
		Committee: NewCommittee(size),
		Metrics:   dgmetrics.NewNodeMetrics(prometheus.NewRegistry()),
	}
}

// NewContextAs is like [NewContext] but observes as the given
// authority.
func NewContextAs(size int, own dgconsensus.AuthorityIndex) *dgconsensus.Context {
	ctx := NewContext(size)
	ctx.OwnIndex = own
	return ctx
}
