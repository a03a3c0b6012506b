// Package deeplink builds the universal links that open the user's
// wallet app for connect and sign-transaction approvals.
package deeplink

import (
	"fmt"
	"net/url"

	"github.com/swapgram/backend/internal/cryptobox"
	"github.com/swapgram/backend/internal/models"
)

const walletBaseURL = "https://phantom.app/ul/v1"

// Builder serializes encrypted payloads and redirect metadata into
// wallet deep links. Immutable after construction, safe for concurrent
// use.
type Builder struct {
	serverURL  string // public callback base, no trailing slash
	appURL     string
	cluster    string
	dappPubKey string // base58 dapp encryption public key
}

func NewBuilder(serverURL, appURL, cluster, dappPubKey string) *Builder {
	return &Builder{
		serverURL:  serverURL,
		appURL:     appURL,
		cluster:    cluster,
		dappPubKey: dappPubKey,
	}
}

// ConnectLink asks the wallet app to establish a connection and bounce
// the user back to the connect callback carrying the chat id.
func (b *Builder) ConnectLink(chatID string) string {
	redirect := fmt.Sprintf("%s/wallet/callback?chat_id=%s", b.serverURL, url.QueryEscape(chatID))

	params := url.Values{}
	params.Set("app_url", b.appURL)
	params.Set("dapp_encryption_public_key", b.dappPubKey)
	params.Set("redirect_link", redirect)
	params.Set("cluster", b.cluster)

	return fmt.Sprintf("%s/connect?%s", walletBaseURL, params.Encode())
}

// SignLink asks the wallet app to sign the encrypted transaction and
// redirect to the execute endpoint for the order kind. The redirect is
// percent-encoded by Values.Encode since it nests inside the outer
// query string.
func (b *Builder) SignLink(chatID, orderID, kind string, env cryptobox.Envelope) (string, error) {
	path := models.ExecutePath(kind)
	if path == "" {
		return "", fmt.Errorf("deeplink: unknown order kind %q", kind)
	}
	redirect := fmt.Sprintf("%s%s?chat_id=%s&order_id=%s",
		b.serverURL, path, url.QueryEscape(chatID), url.QueryEscape(orderID))

	params := url.Values{}
	params.Set("dapp_encryption_public_key", b.dappPubKey)
	params.Set("nonce", env.Nonce)
	params.Set("redirect_link", redirect)
	params.Set("payload", env.Data)

	return fmt.Sprintf("%s/signTransaction?%s", walletBaseURL, params.Encode()), nil
}
