// Package identity implements the allow-list consulted before a borrower may
// open a pool.
package identity

import (
	"errors"
	"fmt"

	"poolchain/crypto"
)

var ErrZeroAddress = errors.New("identity: address must not be zero")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// AllowList records verified users in state.
type AllowList struct {
	state engineState
}

// NewAllowList returns an allow-list backed by st.
func NewAllowList(st engineState) *AllowList { return &AllowList{state: st} }

func userKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("identity/user/%x", addr[:]))
}

// Verify marks addr as a verified user.
func (l *AllowList) Verify(addr crypto.Address) error {
	if addr.IsZero() {
		return ErrZeroAddress
	}
	return l.state.KVPut(userKey(addr), true)
}

// Revoke removes addr from the allow-list.
func (l *AllowList) Revoke(addr crypto.Address) error {
	return l.state.KVDelete(userKey(addr))
}

// IsUser reports whether addr has been verified.
func (l *AllowList) IsUser(addr crypto.Address) bool {
	if l == nil || l.state == nil || addr.IsZero() {
		return false
	}
	var verified bool
	ok, err := l.state.KVGet(userKey(addr), &verified)
	return err == nil && ok && verified
}
