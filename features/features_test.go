package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/prerank-hq/preranker/models"
)

const testUser = "0xuser"

func TestExtract(t *testing.T) {
	t.Run("empty dry run yields zero features", func(t *testing.T) {
		// ARRANGE
		intent := &models.Intent{UserAddress: testUser}
		dryRun := &models.DryRunResult{Status: models.DryRunStatusOK}

		// ACT
		feats := Extract(intent, nil, dryRun)

		// ASSERT
		require.NotNil(t, feats)
		assert.Zero(t, feats.GasCost.Int64())
		assert.Zero(t, feats.ProtocolFees.Int64())
		assert.Zero(t, feats.Surplus.Int64())
		assert.Equal(t, 1, feats.TotalHops)
		assert.Equal(t, 1, feats.ProtocolsCount)
	})

	t.Run("gas cost is the computation component", func(t *testing.T) {
		dryRun := &models.DryRunResult{
			Gas: &models.GasSummary{
				Computation: models.NewBigAmount(1234),
				Storage:     models.NewBigAmount(999),
			},
		}

		feats := Extract(&models.Intent{}, nil, dryRun)

		assert.Equal(t, int64(1234), feats.GasCost.Int64())
	})

	t.Run("protocol fees sum recognised fee fields across events", func(t *testing.T) {
		dryRun := &models.DryRunResult{
			Events: []models.DryRunEvent{
				{Type: "0xdex::pool::Swap", ParsedJSON: map[string]interface{}{"fee": "30"}},
				{Type: "0xagg::router::Route", ParsedJSON: map[string]interface{}{"protocol_fee": float64(12)}},
				{Type: "0xagg::router::Route", ParsedJSON: map[string]interface{}{"unrelated": "999"}},
			},
		}

		feats := Extract(&models.Intent{}, nil, dryRun)

		assert.Equal(t, int64(42), feats.ProtocolFees.Int64())
	})

	t.Run("surplus is actual minus declared minimum", func(t *testing.T) {
		intent := &models.Intent{
			UserAddress: testUser,
			Operation: models.Operation{
				Outputs: []models.AssetAmount{
					{AssetID: "0xa::usdc::USDC", MinAmount: models.NewBigAmount(1000)},
				},
			},
		}
		dryRun := &models.DryRunResult{
			BalanceChanges: []models.BalanceChange{
				{Owner: testUser, CoinType: "0xa::usdc::USDC", Amount: models.NewBigAmount(1050)},
			},
		}

		feats := Extract(intent, nil, dryRun)

		assert.Equal(t, int64(50), feats.Surplus.Int64())
	})

	t.Run("surplus prefers the min-output constraint over the leg", func(t *testing.T) {
		intent := &models.Intent{
			UserAddress: testUser,
			Operation: models.Operation{
				Outputs: []models.AssetAmount{
					{AssetID: "0xa::usdc::USDC", MinAmount: models.NewBigAmount(900)},
				},
			},
			Constraints: models.Constraints{
				MinOutputs: []models.AssetCap{
					{AssetID: "0xa::usdc::USDC", Amount: models.NewBigAmount(1000)},
				},
			},
		}
		dryRun := &models.DryRunResult{
			BalanceChanges: []models.BalanceChange{
				{Owner: testUser, CoinType: "0xa::usdc::USDC", Amount: models.NewBigAmount(1050)},
			},
		}

		feats := Extract(intent, nil, dryRun)

		assert.Equal(t, int64(50), feats.Surplus.Int64())
	})

	t.Run("surplus degrades to zero without a credited output", func(t *testing.T) {
		intent := &models.Intent{
			UserAddress: testUser,
			Operation: models.Operation{
				Outputs: []models.AssetAmount{
					{AssetID: "0xa::usdc::USDC", MinAmount: models.NewBigAmount(1000)},
				},
			},
		}

		feats := Extract(intent, nil, &models.DryRunResult{})

		assert.Zero(t, feats.Surplus.Int64())
	})

	t.Run("hops counted from distinct non-native coin types", func(t *testing.T) {
		// usdc -> weth -> cetus, SUI excluded: 3 coins, 2 hops
		dryRun := &models.DryRunResult{
			BalanceChanges: []models.BalanceChange{
				{Owner: testUser, CoinType: "0xa::usdc::USDC", Amount: models.NewBigAmount(-100)},
				{Owner: testUser, CoinType: "0xb::weth::WETH", Amount: models.NewBigAmount(1)},
				{Owner: testUser, CoinType: "0xc::cetus::CETUS", Amount: models.NewBigAmount(5)},
				{Owner: testUser, CoinType: "0x2::sui::SUI", Amount: models.NewBigAmount(-10)},
			},
		}

		feats := Extract(&models.Intent{}, nil, dryRun)

		assert.Equal(t, 2, feats.TotalHops)
	})

	t.Run("protocols counted from events and object changes excluding system package", func(t *testing.T) {
		dryRun := &models.DryRunResult{
			Events: []models.DryRunEvent{
				{Type: "0xdex::pool::Swap"},
				{Type: "0x2::coin::Transfer"},
			},
			ObjectChanges: []models.ObjectChange{
				{Kind: "mutated", ObjectType: "0xagg::router::State"},
				{Kind: "mutated", ObjectType: "0xdex::pool::Pool"},
			},
		}

		feats := Extract(&models.Intent{}, nil, dryRun)

		assert.Equal(t, 2, feats.ProtocolsCount)
	})
}

func TestPackageID(t *testing.T) {
	assert.Equal(t, "0xdex", packageID("0xdex::pool::Swap"))
	assert.Equal(t, "", packageID("unqualified"))
	assert.Equal(t, "", packageID(""))
}
