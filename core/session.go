package core

import "time"

// AccountMode selects the demo or live account surface. It is immutable for
// the life of a flow.
type AccountMode string

const (
	ModeDemo AccountMode = "demo"
	ModeLive AccountMode = "live"
)

// Valid reports whether m is a known mode.
func (m AccountMode) Valid() bool { return m == ModeDemo || m == ModeLive }

// DurableRecord is the durable storage compartment: connection facts that
// survive a full browser restart. The session token deliberately does not
// live here.
type DurableRecord struct {
	Address         string      `json:"address,omitempty"`
	ChainID         uint64      `json:"chainId,omitempty"`
	AccountMode     AccountMode `json:"accountMode,omitempty"`
	LastConnectedAt time.Time   `json:"lastConnectedAt,omitempty"`
}

// Session is the derived view computed from the two storage compartments.
// It is never stored as such.
type Session struct {
	Address     string      `json:"address"`
	ChainID     uint64      `json:"chainId"`
	AccountMode AccountMode `json:"accountMode"`
	IsConnected bool        `json:"isConnected"`
}

// DeriveSession applies the canonical validity rule: the volatile token
// gates authorization, the durable address alone gates display only. A nil
// session with a non-empty display address means "show the address, treat as
// signed out".
func DeriveSession(record *DurableRecord, token string) (*Session, string) {
	display := ""
	if record != nil {
		display = record.Address
	}
	if record == nil || record.Address == "" || token == "" {
		return nil, display
	}
	return &Session{
		Address:     record.Address,
		ChainID:     record.ChainID,
		AccountMode: record.AccountMode,
		IsConnected: true,
	}, display
}

// WalletEventKind enumerates provider-originated events.
type WalletEventKind string

const (
	WalletEventAccountsChanged WalletEventKind = "accountsChanged"
	WalletEventChainChanged    WalletEventKind = "chainChanged"
	WalletEventDisconnected    WalletEventKind = "disconnect"
)

// WalletEvent is the typed form of a provider event, delivered over a
// channel with explicit unsubscription.
type WalletEvent struct {
	Kind     WalletEventKind
	Accounts []string
	ChainID  uint64
}
