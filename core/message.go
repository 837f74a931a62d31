package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tag identifies a protocol message kind. Page-facing protocol tags use the
// "bifrost:" prefix; control tags exchanged between the relay and the injected
// or background contexts use "bifrost-internal:" and must never be routed back
// to the page.
type Tag string

const (
	// Page protocol requests
	TagCheckExtension Tag = "bifrost:check_extension"
	TagOpenAuth       Tag = "bifrost:open_auth"
	TagGetSession     Tag = "bifrost:get_session"
	TagDisconnect     Tag = "bifrost:disconnect"
	TagWalletConnect  Tag = "bifrost:wallet_connect"
	TagWalletSign     Tag = "bifrost:wallet_sign"
	TagStoreSession   Tag = "bifrost:store_session"
	TagClearSession   Tag = "bifrost:clear_session"
	TagSetAccountMode Tag = "bifrost:set_account_mode"

	// Page protocol responses
	TagCheckExtensionResult Tag = "bifrost:check_extension_result"
	TagOpenAuthResult       Tag = "bifrost:open_auth_result"
	TagGetSessionResult     Tag = "bifrost:get_session_result"
	TagDisconnectResult     Tag = "bifrost:disconnect_result"
	TagWalletConnectResult  Tag = "bifrost:wallet_connect_result"
	TagWalletSignResult     Tag = "bifrost:wallet_sign_result"
	TagStoreSessionResult   Tag = "bifrost:store_session_result"
	TagClearSessionResult   Tag = "bifrost:clear_session_result"
	TagSetAccountModeResult Tag = "bifrost:set_account_mode_result"

	// TagError is the generic failure response for any request.
	TagError Tag = "bifrost:error"

	// TagSessionChanged is a broadcast notification without correlation;
	// receivers reconcile against persisted state instead of trusting it.
	TagSessionChanged Tag = "bifrost:session_changed"

	// Internal relay <-> injected control tags
	TagWalletRequest  Tag = "bifrost-internal:wallet_request"
	TagWalletResponse Tag = "bifrost-internal:wallet_response"

	// TagWalletEvent carries provider events (accountsChanged and friends)
	// from the injected context to the relay.
	TagWalletEvent Tag = "bifrost-internal:wallet_event"

	// Internal relay <-> background health tags
	TagPing Tag = "bifrost-internal:ping"
	TagPong Tag = "bifrost-internal:pong"

	// TagKeepAlive carries lease heartbeats that keep the background
	// executor from being idle-suspended during long operations.
	TagKeepAlive Tag = "bifrost-internal:keep_alive"
)

// pageRequests is the closed set of page-facing requests the relay handles.
// Anything else arriving on the page channel is ignored.
var pageRequests = map[Tag]bool{
	TagCheckExtension: true,
	TagOpenAuth:       true,
	TagGetSession:     true,
	TagDisconnect:     true,
	TagWalletConnect:  true,
	TagWalletSign:     true,
	TagStoreSession:   true,
	TagClearSession:   true,
	TagSetAccountMode: true,
}

// IsPageRequest reports whether t is a known page-facing request tag.
func IsPageRequest(t Tag) bool { return pageRequests[t] }

// IsInternal reports whether t is a relay control tag that must never cross
// back onto the page channel. Filtering these breaks the echo loop created
// when another extension re-posts every message it sees.
func (t Tag) IsInternal() bool {
	return len(t) > len("bifrost-internal:") && t[:len("bifrost-internal:")] == "bifrost-internal:"
}

// ResultTag returns the response tag mirroring a request tag.
func ResultTag(req Tag) Tag {
	switch req {
	case TagCheckExtension:
		return TagCheckExtensionResult
	case TagOpenAuth:
		return TagOpenAuthResult
	case TagGetSession:
		return TagGetSessionResult
	case TagDisconnect:
		return TagDisconnectResult
	case TagWalletConnect:
		return TagWalletConnectResult
	case TagWalletSign:
		return TagWalletSignResult
	case TagStoreSession:
		return TagStoreSessionResult
	case TagClearSession:
		return TagClearSessionResult
	case TagSetAccountMode:
		return TagSetAccountModeResult
	default:
		return TagError
	}
}

// Envelope is the wire form of every cross-context message. RequestID
// correlates a request with exactly one response and is empty for broadcast
// notifications.
type Envelope struct {
	Type      Tag             `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope. A nil payload produces an
// envelope with no payload field.
func NewEnvelope(t Tag, requestID string, payload any) (Envelope, error) {
	env := Envelope{Type: t, RequestID: requestID}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// Encode serializes the envelope for transport.
func (e Envelope) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return raw, nil
}

// DecodeEnvelope parses a wire message. Unknown tags are preserved so the
// caller can decide to ignore them.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope has no type: %w", ErrInvalidMessage)
	}
	return env, nil
}

// Decode unmarshals the payload into out.
func (e Envelope) Decode(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s carries no payload: %w", e.Type, ErrInvalidMessage)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Request payloads.
type (
	// OpenAuthRequest starts or resumes the authentication flow.
	OpenAuthRequest struct {
		Mode AccountMode `json:"mode,omitempty"`
	}

	// WalletSignRequest asks the injected context to personal_sign a message.
	WalletSignRequest struct {
		Address string `json:"address"`
		Message string `json:"message"`
	}

	// StoreSessionRequest persists a completed handshake.
	StoreSessionRequest struct {
		Address string      `json:"address"`
		ChainID uint64      `json:"chainId"`
		Mode    AccountMode `json:"mode"`
		Token   string      `json:"token"`
	}

	// SetAccountModeRequest switches between demo and live.
	SetAccountModeRequest struct {
		Mode AccountMode `json:"mode"`
	}
)

// Response payloads.
type (
	// CheckExtensionResult answers presence polling.
	CheckExtensionResult struct {
		Installed bool   `json:"installed"`
		Version   string `json:"version,omitempty"`
	}

	// WalletConnectResult carries the connected accounts and chain.
	WalletConnectResult struct {
		Accounts []string `json:"accounts"`
		Address  string   `json:"address"`
		ChainID  uint64   `json:"chainId"`
	}

	// WalletSignResult carries the produced signature.
	WalletSignResult struct {
		Signature string `json:"signature"`
	}

	// OpenAuthResult reports the flow outcome.
	OpenAuthResult struct {
		State   FlowState `json:"state"`
		Address string    `json:"address,omitempty"`
		ChainID uint64    `json:"chainId,omitempty"`
	}

	// GetSessionResult carries the derived session view. Session is nil when
	// either storage compartment is missing its half; DisplayAddress is then
	// the best-effort address for UI only.
	GetSessionResult struct {
		Session        *Session `json:"session,omitempty"`
		DisplayAddress string   `json:"displayAddress,omitempty"`
	}

	// AckResult acknowledges fire-and-forget style requests.
	AckResult struct {
		OK bool `json:"ok"`
	}

	// ErrorPayload is the body of a TagError response.
	ErrorPayload struct {
		Code         Code   `json:"code"`
		Message      string `json:"message"`
		OriginalType Tag    `json:"originalType"`
		RequestID    string `json:"requestId"`
		RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
	}
)

// SessionChangedEvent is the broadcast payload published when the stored
// session changes. It carries no correlation id and is advisory only.
type SessionChangedEvent struct {
	Address   string      `json:"address,omitempty"`
	ChainID   uint64      `json:"chainId,omitempty"`
	Mode      AccountMode `json:"mode,omitempty"`
	Connected bool        `json:"connected"`
	At        time.Time   `json:"at"`
}

// Wallet control payloads for the relay <-> injected channel.
type (
	// WalletCall names the wallet RPC the injected context should perform.
	WalletCall string

	// WalletRequest is the internal envelope body for a wallet RPC.
	WalletRequest struct {
		Call    WalletCall `json:"call"`
		Address string     `json:"address,omitempty"`
		Message string     `json:"message,omitempty"`
	}

	// WalletResponse is the internal envelope body for a wallet RPC result.
	WalletResponse struct {
		Accounts  []string `json:"accounts,omitempty"`
		ChainID   uint64   `json:"chainId,omitempty"`
		Signature string   `json:"signature,omitempty"`
		ErrCode   Code     `json:"errCode,omitempty"`
		ErrMsg    string   `json:"errMsg,omitempty"`
	}
)

const (
	WalletCallRequestAccounts WalletCall = "requestAccounts"
	WalletCallChainID         WalletCall = "getChainId"
	WalletCallPersonalSign    WalletCall = "personalSign"
)

// PongPayload reports executor liveness. Ready=false with MainModuleLoaded
// true means boot completed but async init has not; MainModuleLoaded=false is
// a fatal initialization failure, not a transient condition.
type PongPayload struct {
	Timestamp        time.Time `json:"timestamp"`
	Ready            bool      `json:"ready"`
	MainModuleLoaded bool      `json:"mainModuleLoaded"`
	LastError        string    `json:"lastError,omitempty"`
}
