package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"poolchain/config"
	"poolchain/core/events"
	"poolchain/core/state"
	"poolchain/crypto"
	"poolchain/native/common"
	"poolchain/native/identity"
	"poolchain/native/ledger"
	"poolchain/native/lending"
	"poolchain/native/oracle"
	"poolchain/native/strategy"
	"poolchain/observability"
	"poolchain/storage"
)

var errNilCall = errors.New("runtime: nil call")

// Tx exposes the engines to a single executed call. Everything written through
// it is committed or discarded together.
type Tx struct {
	State    *state.Manager
	Ledger   *ledger.Engine
	Lending  *lending.Engine
	Identity *identity.AllowList
	Registry *strategy.Registry
	NoYield  *strategy.NoYield

	vaults map[string]*strategy.Vault
	now    uint64
}

// Now returns the runtime time the call executes at.
func (tx *Tx) Now() uint64 { return tx.now }

// Vault returns the named vault strategy attached to the runtime.
func (tx *Tx) Vault(name string) (*strategy.Vault, error) {
	v, ok := tx.vaults[name]
	if !ok {
		return nil, fmt.Errorf("runtime: unknown vault %q", name)
	}
	return v, nil
}

// Runtime wires the storage, state manager and engines together and runs
// every entry point atomically. Calls are serialised.
type Runtime struct {
	mu       sync.Mutex
	db       storage.Database
	state    *state.Manager
	ledger   *ledger.Engine
	lending  *lending.Engine
	identity *identity.AllowList
	registry *strategy.Registry
	noYield  *strategy.NoYield
	vaults   map[string]*strategy.Vault
	feed     *oracle.Feed
	pauses   *common.Pauses
	logger   *slog.Logger
	metrics  interface {
		Observe(string, error, time.Duration)
	}

	clock    func() time.Time
	lastTime int64
}

// NewRuntime builds a runtime over db using cfg. The no-yield strategy is
// registered on first start.
func NewRuntime(db storage.Database, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	params, err := cfg.Lending.Params()
	if err != nil {
		return nil, err
	}
	st := state.NewManager(db)
	st.SetEmitter(observability.Events())

	r := &Runtime{
		db:       db,
		state:    st,
		ledger:   ledger.NewEngine(),
		lending:  lending.NewEngine(),
		identity: identity.NewAllowList(st),
		registry: strategy.NewRegistry(st, cfg.Strategy.MaxStrategies),
		noYield:  strategy.NewNoYield(st),
		vaults:   make(map[string]*strategy.Vault),
		feed:     oracle.NewFeed(time.Duration(cfg.Oracle.MaxAgeSeconds) * time.Second),
		pauses:   common.NewPauses(cfg.Pauses.Modules()...),
		logger:   logger,
		metrics:  observability.Runtime(),
		clock:    time.Now,
	}
	r.feed.SetNowFunc(r.unix)

	r.ledger.SetState(st)
	r.ledger.SetRegistry(r.registry)
	r.ledger.SetPauses(r.pauses)
	r.ledger.SetLogger(logger)
	r.ledger.AttachAdapter(r.noYield)

	r.lending.SetState(st)
	r.lending.SetLedger(r.ledger)
	r.lending.SetPriceFeed(r.feed)
	r.lending.SetIdentity(r.identity)
	r.lending.SetRegistry(r.registry)
	r.lending.SetPauses(r.pauses)
	r.lending.SetLogger(logger)
	r.lending.SetNowFunc(r.unix)
	if err := r.lending.SetParams(params); err != nil {
		return nil, err
	}

	err = r.Execute("runtime.bootstrap", func(tx *Tx) error {
		if tx.Registry.IsRegistered(tx.NoYield.Address()) {
			return nil
		}
		return tx.Registry.Add(tx.NoYield.Address())
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: bootstrap: %w", err)
	}
	return r, nil
}

// SetClock replaces the wall clock and restarts runtime time at its current
// reading. Afterwards runtime time never moves backwards even when the clock
// does.
func (r *Runtime) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if clock == nil {
		clock = time.Now
	}
	r.clock = clock
	r.lastTime = clock().Unix()
}

// SetEmitter forwards committed events to emitter in addition to metrics.
func (r *Runtime) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.state.SetEmitter(observability.Events())
		return
	}
	r.state.SetEmitter(events.Fanout{observability.Events(), emitter})
}

// PriceFeed returns the feed consulted for collateral valuation.
func (r *Runtime) PriceFeed() *oracle.Feed { return r.feed }

// Pauses returns the module switch board.
func (r *Runtime) Pauses() *common.Pauses { return r.pauses }

// unix is the time engines observe. Callers hold r.mu.
func (r *Runtime) unix() int64 { return r.lastTime }

func (r *Runtime) tick() {
	now := r.clock().Unix()
	if now > r.lastTime {
		r.lastTime = now
	}
}

// AttachVault creates a compounding vault strategy named name and registers
// it with the ledger and the strategy registry.
func (r *Runtime) AttachVault(name string) (crypto.Address, error) {
	var addr crypto.Address
	err := r.Execute("runtime.attach_vault", func(tx *Tx) error {
		if _, ok := tx.vaults[name]; ok {
			return fmt.Errorf("runtime: vault %q already attached", name)
		}
		v := strategy.NewVault(tx.State, name)
		if !tx.Registry.IsRegistered(v.Address()) {
			if err := tx.Registry.Add(v.Address()); err != nil {
				return err
			}
		}
		addr = v.Address()
		r.vaults[name] = v
		r.ledger.AttachAdapter(v)
		return nil
	})
	if err != nil {
		delete(r.vaults, name)
		return crypto.Address{}, err
	}
	return addr, nil
}

func (r *Runtime) tx() *Tx {
	return &Tx{
		State:    r.state,
		Ledger:   r.ledger,
		Lending:  r.lending,
		Identity: r.identity,
		Registry: r.registry,
		NoYield:  r.noYield,
		vaults:   r.vaults,
		now:      uint64(r.lastTime),
	}
}

// Execute runs fn as one atomic call named op. On success every buffered
// write is committed and events are delivered; on any error the writes are
// discarded and the error returned unchanged.
func (r *Runtime) Execute(op string, fn func(tx *Tx) error) error {
	if fn == nil {
		return errNilCall
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	r.tick()
	r.state.Discard()
	err := fn(r.tx())
	if err != nil {
		r.state.Discard()
		r.logger.Debug("runtime call rejected", "operation", op, "code", common.Code(err), "error", err)
	} else if _, cerr := r.state.Commit(); cerr != nil {
		r.state.Discard()
		err = cerr
		r.logger.Error("runtime commit failed", "operation", op, "error", cerr)
	}
	r.metrics.Observe(op, err, time.Since(started))
	return err
}

// View runs fn against committed state and discards anything it writes.
func (r *Runtime) View(fn func(tx *Tx) error) error {
	if fn == nil {
		return errNilCall
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick()
	defer r.state.Discard()
	return fn(r.tx())
}

// Close releases the underlying database.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		r.db.Close()
	}
}
