package query

import (
	"strings"

	"github.com/helicone/requestquery/pkg/types"
)

// Scoped is a filter bound to one tenant. The only way to build a usable
// Scoped is Guard; Compile rejects the zero value.
type Scoped struct {
	root       types.Filter
	tenantID   string
	governance bool
}

func (s Scoped) TenantID() string { return s.tenantID }

func (s Scoped) GovernanceOnly() bool { return s.governance }

type GuardOption func(*guardOptions)

type guardOptions struct {
	governanceOnly bool
}

// WithGovernanceOnly restricts the scope to requests flagged for governance review.
func WithGovernanceOnly(enabled bool) GuardOption {
	return func(o *guardOptions) { o.governanceOnly = enabled }
}

// Guard wraps expr as And(TenantEquals(tenantID), expr). With governance the
// inner side becomes And(GovernanceEquals(true), expr), keeping the tenant
// clause at the top level.
func Guard(expr types.Filter, tenantID string, opts ...GuardOption) (Scoped, error) {
	var o guardOptions
	for _, opt := range opts {
		opt(&o)
	}

	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Scoped{}, invalid("tenant_id", "required")
	}
	if expr == nil {
		return Scoped{}, invalid("filter", "required")
	}

	inner := expr
	if o.governanceOnly {
		inner = types.AndOf(types.Match(types.SubjectRequest, fieldGovernance, types.OpEquals, true), expr)
	}

	return Scoped{
		root:       types.AndOf(tenantEquals(tenantID), inner),
		tenantID:   tenantID,
		governance: o.governanceOnly,
	}, nil
}

func tenantEquals(tenantID string) types.Leaf {
	return types.Match(types.SubjectRequest, fieldOrganizationID, types.OpEquals, tenantID)
}
