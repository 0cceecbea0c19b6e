package dialog

import (
	"fmt"

	"github.com/icholy/digest"

	"github.com/arzzra/voicecore/pkg/sip/core/types"
)

// Credentials are the digest credentials a dialog retries a challenged
// request with (spec §4.3: "re-issuing the request with Authorization on
// 401/407, using stored credentials").
type Credentials struct {
	Username string
	Password string
}

// SetCredentials stores the credentials this dialog will use to answer a
// 401/407 challenge on any request it sends.
func (d *sipDialog) SetCredentials(creds Credentials) {
	d.authMu.Lock()
	defer d.authMu.Unlock()
	d.credentials = &creds
}

// BuildAuthorization computes the Authorization (or Proxy-Authorization)
// header value to retry req with, given the 401/407 challengeResp just
// received for it.
func (d *sipDialog) BuildAuthorization(req types.Message, challengeResp types.Message) (header, value string, err error) {
	d.authMu.RLock()
	creds := d.credentials
	d.authMu.RUnlock()
	if creds == nil {
		return "", "", fmt.Errorf("dialog: no credentials configured for auth challenge")
	}

	header = "Authorization"
	challengeHeader := challengeResp.GetHeader("WWW-Authenticate")
	if challengeResp.StatusCode() == 407 {
		header = "Proxy-Authorization"
		challengeHeader = challengeResp.GetHeader("Proxy-Authenticate")
	}
	if challengeHeader == "" {
		return "", "", fmt.Errorf("dialog: %d response carried no auth challenge header", challengeResp.StatusCode())
	}

	chal, err := digest.ParseChallenge(challengeHeader)
	if err != nil {
		return "", "", fmt.Errorf("dialog: parsing auth challenge: %w", err)
	}

	reqURI := ""
	if uri := req.RequestURI(); uri != nil {
		reqURI = uri.String()
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method(),
		URI:      reqURI,
		Username: creds.Username,
		Password: creds.Password,
	})
	if err != nil {
		return "", "", fmt.Errorf("dialog: computing digest response: %w", err)
	}

	return header, cred.String(), nil
}
