package models

import "time"

// ChatSession is the per-conversation wallet link state. One row per
// chat id; reconnecting overwrites the previous entry.
type ChatSession struct {
	ChatID             string    `json:"chat_id"`
	WalletAddress      string    `json:"wallet_address"`
	SessionToken       string    `json:"-"` // opaque token issued by the wallet app
	CounterpartyPubKey string    `json:"-"` // wallet app per-connection encryption key, base58
	ConnectedAt        time.Time `json:"connected_at"`
	LastActivity       time.Time `json:"last_activity"`
}

// CanEncrypt reports whether the session holds everything needed to
// seal a payload to this user's wallet app.
func (s *ChatSession) CanEncrypt() bool {
	return s != nil && s.WalletAddress != "" && s.CounterpartyPubKey != ""
}
