package core

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"poolchain/config"
	"poolchain/core/events"
	"poolchain/crypto"
	"poolchain/native/common"
	"poolchain/native/fixedpoint"
	"poolchain/native/lending"
	"poolchain/storage"
)

type recordingEmitter struct{ types []string }

func (r *recordingEmitter) Emit(evt events.Event) { r.types = append(r.types, evt.EventType()) }

type harness struct {
	rt       *Runtime
	now      int64
	borrower crypto.Address
	lender   crypto.Address
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T, db storage.Database, cfg *config.Config) *harness {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	rt, err := NewRuntime(db, cfg, quietLogger())
	require.NoError(t, err)
	h := &harness{
		rt:       rt,
		now:      1_700_000_000,
		borrower: crypto.BytesToAddress([]byte{0xB0}),
		lender:   crypto.BytesToAddress([]byte{0x1E}),
	}
	rt.SetClock(func() time.Time { return time.Unix(h.now, 0) })
	return h
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	require.NoError(t, h.rt.Execute("seed", func(tx *Tx) error {
		if err := tx.State.RegisterToken("USDC", "USD Coin", 6); err != nil {
			return err
		}
		if err := tx.State.RegisterToken("ETH", "Ether", 18); err != nil {
			return err
		}
		if err := tx.Identity.Verify(h.borrower); err != nil {
			return err
		}
		if err := tx.State.Mint(h.borrower, "ETH", big.NewInt(1e18)); err != nil {
			return err
		}
		return tx.State.Mint(h.lender, "USDC", big.NewInt(5_000_000_000))
	}))
	require.NoError(t, h.rt.PriceFeed().SetDecimal("ETH", "USDC", "2000", h.now))
}

func (h *harness) request() *lending.CreatePoolRequest {
	return &lending.CreatePoolRequest{
		Borrower:               h.borrower,
		PoolSize:               big.NewInt(1_000_000_000),
		MinBorrowAmount:        big.NewInt(100_000_000),
		IdealCollateralRatio:   fixedpoint.MustParse("1.5"),
		BorrowRate:             fixedpoint.MustParse("0.1"),
		BorrowAsset:            "USDC",
		CollateralAsset:        "ETH",
		Strategy:               h.rt.noYield.Address(),
		CollateralAmount:       big.NewInt(5e17),
		RepaymentInterval:      30 * 24 * 3600,
		NoOfRepaymentIntervals: 3,
		Salt:                   []byte("runtime"),
	}
}

func TestExecuteDiscardsFailedCall(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.seed(t)

	boom := errors.New("boom")
	err := h.rt.Execute("mint.then.fail", func(tx *Tx) error {
		if err := tx.State.Mint(h.lender, "USDC", big.NewInt(1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, h.rt.View(func(tx *Tx) error {
		bal, err := tx.State.Balance(h.lender, "USDC")
		require.NoError(t, err)
		require.Equal(t, int64(5_000_000_000), bal.Int64())
		return nil
	}))
	require.ErrorIs(t, h.rt.Execute("nil", nil), errNilCall)
}

func TestExecuteRollsBackPartialPoolCreation(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.seed(t)

	// The collateral is pulled before the lend fails, so the whole call must
	// unwind including the pool record.
	req := h.request()
	err := h.rt.Execute("create.and.lend", func(tx *Tx) error {
		pool, err := tx.Lending.CreatePool(req)
		if err != nil {
			return err
		}
		_, err = tx.Lending.Lend(h.borrower, pool.Address, h.borrower, big.NewInt(1), crypto.ZeroAddress, false)
		return err
	})
	require.ErrorIs(t, err, lending.ErrBorrowerCannotLend)

	require.NoError(t, h.rt.View(func(tx *Tx) error {
		pools, err := tx.Lending.Pools()
		require.NoError(t, err)
		require.Empty(t, pools)
		bal, err := tx.State.Balance(h.borrower, "ETH")
		require.NoError(t, err)
		require.Zero(t, bal.Cmp(big.NewInt(1e18)))
		return nil
	}))
}

func TestRuntimeLifecyclePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	h := newHarness(t, db, nil)
	h.seed(t)
	recorder := &recordingEmitter{}
	h.rt.SetEmitter(recorder)

	var poolID crypto.Address
	require.NoError(t, h.rt.Execute("lending.create_pool", func(tx *Tx) error {
		pool, err := tx.Lending.CreatePool(h.request())
		if err != nil {
			return err
		}
		poolID = pool.Address
		return nil
	}))
	require.NoError(t, h.rt.Execute("lending.lend", func(tx *Tx) error {
		_, err := tx.Lending.Lend(h.lender, poolID, h.lender, big.NewInt(600_000_000), crypto.ZeroAddress, false)
		return err
	}))
	h.now += 7 * 24 * 3600
	require.NoError(t, h.rt.PriceFeed().SetDecimal("ETH", "USDC", "2000", h.now))
	require.NoError(t, h.rt.Execute("lending.withdraw_borrowed", func(tx *Tx) error {
		_, err := tx.Lending.WithdrawBorrowedAmount(h.borrower, poolID)
		return err
	}))
	require.Contains(t, recorder.types, lending.EventTypePoolCreated)
	require.Contains(t, recorder.types, lending.EventTypeBorrowed)
	h.rt.Close()

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	reopened := newHarness(t, db, nil)
	defer reopened.rt.Close()
	reopened.now = h.now
	require.NoError(t, reopened.rt.View(func(tx *Tx) error {
		pool, err := tx.Lending.Pool(poolID)
		require.NoError(t, err)
		require.Equal(t, lending.LoanStatusActive, pool.Status)
		require.Equal(t, int64(600_000_000), pool.TotalSupply.Int64())
		bal, err := tx.State.Balance(h.borrower, "USDC")
		require.NoError(t, err)
		require.Equal(t, int64(600_000_000), bal.Int64())
		return nil
	}))
}

func TestRuntimeClockIsMonotonic(t *testing.T) {
	h := newHarness(t, nil, nil)
	var first, second uint64
	require.NoError(t, h.rt.View(func(tx *Tx) error { first = tx.Now(); return nil }))
	h.now -= 3600
	require.NoError(t, h.rt.View(func(tx *Tx) error { second = tx.Now(); return nil }))
	require.Equal(t, first, second)
}

func TestRuntimePausesFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pauses.Lending = true
	h := newHarness(t, nil, cfg)
	h.seed(t)

	err := h.rt.Execute("lending.create_pool", func(tx *Tx) error {
		_, err := tx.Lending.CreatePool(h.request())
		return err
	})
	require.ErrorIs(t, err, common.ErrModulePaused)
	require.Equal(t, common.CodePaused, common.Code(err))

	h.rt.Pauses().Set("lending", false)
	require.NoError(t, h.rt.Execute("lending.create_pool", func(tx *Tx) error {
		_, err := tx.Lending.CreatePool(h.request())
		return err
	}))
}

func TestAttachVault(t *testing.T) {
	h := newHarness(t, nil, nil)
	addr, err := h.rt.AttachVault("yv")
	require.NoError(t, err)
	require.NoError(t, h.rt.View(func(tx *Tx) error {
		require.True(t, tx.Registry.IsRegistered(addr))
		v, err := tx.Vault("yv")
		require.NoError(t, err)
		require.Equal(t, addr, v.Address())
		_, err = tx.Vault("missing")
		require.Error(t, err)
		return nil
	}))
	_, err = h.rt.AttachVault("yv")
	require.Error(t, err)
}
