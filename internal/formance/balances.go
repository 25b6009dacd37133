package formance

import (
	"context"
	"fmt"
	"math/big"

	"mydraws-credits-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// GetBalance reads the CREDIT volume of users:{id}. An account that has never
// been posted to has a zero balance.
func (s *Service) GetBalance(ctx context.Context, accountId string) (int64, error) {
	if _, err := s.accounts.GetAccount(ctx, accountId); err != nil {
		return 0, err
	}

	zap.L().Debug("Getting credit balance from Formance", zap.String("account_id", accountId))
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: userAddress(accountId),
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get account volumes: %w", err)
	}

	bal := volumeBalance(resp.V2AccountResponse.Data.Volumes, creditAsset)
	if bal == nil {
		return 0, nil
	}
	if !bal.IsInt64() {
		return 0, fmt.Errorf("%w: balance %s overflows int64", store.ErrBalanceMismatch, bal.String())
	}
	return bal.Int64(), nil
}

// volumeBalance extracts the balance for an asset from account volumes.
func volumeBalance(vols map[string]shared.V2Volume, asset string) *big.Int {
	vol, ok := vols[asset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}
