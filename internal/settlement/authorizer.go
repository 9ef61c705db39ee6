package settlement

import (
	"context"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// PolicyAuthorizer grants roles from Params. The creation authority
// administers feeds and the ledger; the resolver address may resolve any
// market. Extra ledger admins may be listed at construction.
type PolicyAuthorizer struct {
	params       Params
	ledgerAdmins map[common.Address]struct{}
}

// NewPolicyAuthorizer creates a PolicyAuthorizer for params.
func NewPolicyAuthorizer(params Params, ledgerAdmins ...common.Address) *PolicyAuthorizer {
	a := &PolicyAuthorizer{params: params, ledgerAdmins: make(map[common.Address]struct{})}
	for _, addr := range ledgerAdmins {
		a.ledgerAdmins[addr] = struct{}{}
	}
	return a
}

// IsAuthorized implements domain.Authorizer.
func (a *PolicyAuthorizer) IsAuthorized(_ context.Context, caller common.Address, role domain.Role) bool {
	zero := common.Address{}
	if caller == zero {
		return false
	}
	switch role {
	case domain.RoleMarketCreator:
		return a.params.CreationPolicy == CreationOpen || caller == a.params.CreationAuthority
	case domain.RoleFeedAdmin:
		return caller == a.params.CreationAuthority
	case domain.RoleLedgerAdmin:
		if caller == a.params.CreationAuthority {
			return true
		}
		_, ok := a.ledgerAdmins[caller]
		return ok
	case domain.RoleResolver:
		return a.params.ResolverAddress != zero && caller == a.params.ResolverAddress
	}
	return false
}
