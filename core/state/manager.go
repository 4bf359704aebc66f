package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"poolchain/core/events"
	"poolchain/core/types"
	"poolchain/crypto"
	"poolchain/storage"
)

// NativeAsset is the symbol of the chain's native coin. Deposits of the native
// asset must carry an attached value matching the deposited amount.
const NativeAsset = "NATIVE"

var (
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	ErrUnknownToken        = errors.New("state: token not registered")
	ErrTokenExists         = errors.New("state: token already registered")
)

// Manager is a journaled view over a storage.Database. Writes are buffered in
// memory until Commit flushes them in one batch; Discard drops them. Events
// appended during a call are buffered the same way and only reach the emitter
// once the writes that produced them are durable.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	events  []types.Event
	emitter events.Emitter
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	if db == nil {
		db = storage.NewMemDB()
	}
	return &Manager{
		db:      db,
		dirty:   make(map[string][]byte),
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures where committed events are delivered. Passing nil
// resets the emitter to a no-op implementation.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// TokenMetadata describes a registered fungible asset.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix   = []byte("token:")
	tokenListKey  = []byte("token-list")
	balancePrefix = []byte("balance:")
)

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return buf
}

func balanceKey(addr crypto.Address, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+crypto.AddressLength)
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr[:])
	return buf
}

func kvKey(key []byte) string {
	return string(ethcrypto.Keccak256(key))
}

func (m *Manager) read(hashed string) ([]byte, error) {
	if value, ok := m.dirty[hashed]; ok {
		return value, nil
	}
	value, err := m.db.Get([]byte(hashed))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) write(hashed string, value []byte) {
	m.dirty[hashed] = value
}

// KVPut RLP-encodes value and stores it under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(kvKey(key), nil)
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.write(hashed, encoded)
	return nil
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

func (m *Manager) loadTokenList() ([]string, error) {
	var list []string
	if err := m.KVGetList(tokenListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// RegisterToken stores the metadata for a fungible asset and records it in the
// token index.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if m.TokenExists(normalized) {
		return fmt.Errorf("%w: %s", ErrTokenExists, normalized)
	}
	meta := &TokenMetadata{Symbol: normalized, Name: strings.TrimSpace(name), Decimals: decimals}
	if err := m.KVPut(tokenMetadataKey(normalized), meta); err != nil {
		return err
	}
	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	return m.KVPut(tokenListKey, list)
}

// Token returns the metadata of a registered asset.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetadataKey(NormalizeSymbol(symbol)), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return meta, nil
}

// TokenList returns the registered asset symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) { return m.loadTokenList() }

// TokenExists reports whether symbol has been registered.
func (m *Manager) TokenExists(symbol string) bool {
	ok, err := m.KVGet(tokenMetadataKey(NormalizeSymbol(symbol)), nil)
	return err == nil && ok
}

// SetBalance overwrites the balance of addr in the given asset.
func (m *Manager) SetBalance(addr crypto.Address, symbol string, amount *big.Int) error {
	normalized := NormalizeSymbol(symbol)
	if !m.TokenExists(normalized) {
		return fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("balance must not be negative")
	}
	return m.KVPut(balanceKey(addr, normalized), amount)
}

// Balance returns the balance of addr in the given asset.
func (m *Manager) Balance(addr crypto.Address, symbol string) (*big.Int, error) {
	out := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr, NormalizeSymbol(symbol)), out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return out, nil
}

// Transfer moves amount of symbol from one address to another.
func (m *Manager) Transfer(from, to crypto.Address, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must not be negative")
	}
	fromBal, err := m.Balance(from, symbol)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from, fromBal, symbol, amount)
	}
	if from == to {
		return nil
	}
	toBal, err := m.Balance(to, symbol)
	if err != nil {
		return err
	}
	if err := m.SetBalance(from, symbol, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.SetBalance(to, symbol, new(big.Int).Add(toBal, amount))
}

// Mint credits amount of symbol to addr.
func (m *Manager) Mint(to crypto.Address, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	bal, err := m.Balance(to, symbol)
	if err != nil {
		return err
	}
	return m.SetBalance(to, symbol, new(big.Int).Add(bal, amount))
}

// Burn debits amount of symbol from addr.
func (m *Manager) Burn(from crypto.Address, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	bal, err := m.Balance(from, symbol)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s %s from %s", ErrInsufficientBalance, amount, symbol, from)
	}
	return m.SetBalance(from, symbol, new(big.Int).Sub(bal, amount))
}

// AppendEvent buffers evt until the next Commit.
func (m *Manager) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	m.events = append(m.events, evt.Clone())
}

// PendingEvents returns a copy of the events buffered since the last Commit or
// Discard.
func (m *Manager) PendingEvents() []types.Event {
	out := make([]types.Event, len(m.events))
	for i := range m.events {
		out[i] = m.events[i].Clone()
	}
	return out
}

// Dirty reports whether uncommitted writes or events are buffered.
func (m *Manager) Dirty() bool { return len(m.dirty) > 0 || len(m.events) > 0 }

type stateEvent struct {
	evt types.Event
}

func (e stateEvent) EventType() string { return e.evt.Type }

func (e stateEvent) Event() *types.Event { return &e.evt }

// Commit flushes buffered writes to the database in a single batch and then
// delivers buffered events. The committed events are returned.
func (m *Manager) Commit() ([]types.Event, error) {
	if len(m.dirty) > 0 {
		if err := m.db.WriteBatch(m.dirty); err != nil {
			return nil, fmt.Errorf("state: commit: %w", err)
		}
	}
	committed := m.PendingEvents()
	m.dirty = make(map[string][]byte)
	m.events = nil
	for _, evt := range committed {
		m.emitter.Emit(stateEvent{evt: evt})
	}
	return committed, nil
}

// Discard drops every buffered write and event.
func (m *Manager) Discard() {
	m.dirty = make(map[string][]byte)
	m.events = nil
}

// NormalizeSymbol returns the canonical upper-case form of an asset symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
