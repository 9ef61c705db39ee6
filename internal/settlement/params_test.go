package settlement

import (
	"context"
	"strings"
	"testing"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

func TestParamsValidate(t *testing.T) {
	p := DefaultParams()
	err := p.Validate()
	if err == nil {
		t.Fatal("defaults without addresses should not validate")
	}
	for _, want := range []string{"creation_authority", "protocol_wallet"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	p.CreationAuthority = authority
	p.ProtocolWallet = wallet
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	p.FeeBase = "gross"
	if err := p.Validate(); err == nil || !strings.Contains(err.Error(), "fee_base") {
		t.Fatalf("expected fee_base error, got %v", err)
	}
}

func TestPolicyAuthorizer(t *testing.T) {
	params := DefaultParams()
	params.CreationAuthority = authority
	params.ProtocolWallet = wallet
	params.ResolverAddress = resolver
	admin := common.HexToAddress("0xad")
	a := NewPolicyAuthorizer(params, admin)
	ctx := context.Background()

	tests := []struct {
		caller common.Address
		role   domain.Role
		want   bool
	}{
		{authority, domain.RoleMarketCreator, true},
		{alice, domain.RoleMarketCreator, false},
		{authority, domain.RoleFeedAdmin, true},
		{admin, domain.RoleFeedAdmin, false},
		{admin, domain.RoleLedgerAdmin, true},
		{authority, domain.RoleLedgerAdmin, true},
		{resolver, domain.RoleResolver, true},
		{authority, domain.RoleResolver, false},
		{common.Address{}, domain.RoleMarketCreator, false},
	}
	for _, tc := range tests {
		if got := a.IsAuthorized(ctx, tc.caller, tc.role); got != tc.want {
			t.Errorf("IsAuthorized(%s, %s) = %v, want %v", tc.caller.Hex(), tc.role, got, tc.want)
		}
	}

	params.CreationPolicy = CreationOpen
	open := NewPolicyAuthorizer(params)
	if !open.IsAuthorized(ctx, alice, domain.RoleMarketCreator) {
		t.Error("open policy should let anyone create markets")
	}
}
