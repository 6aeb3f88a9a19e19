package telephony

import (
	"errors"
	"time"

	"github.com/twilio/twilio-go/client/jwt"
)

// VoiceTokenConfig holds the API key used to sign softphone access tokens.
type VoiceTokenConfig struct {
	AccountSID   string
	APIKeySID    string
	APIKeySecret string
	TwiMLAppSID  string
	TTL          time.Duration
}

// VoiceTokenIssuer signs Twilio Voice access tokens for browser softphones.
type VoiceTokenIssuer struct {
	accountSID string
	keySID     string
	secret     string
	appSID     string
	ttl        time.Duration
}

func NewVoiceTokenIssuer(cfg VoiceTokenConfig) (*VoiceTokenIssuer, error) {
	if cfg.AccountSID == "" || cfg.APIKeySID == "" || cfg.APIKeySecret == "" {
		return nil, errors.New("telephony: account sid, api key sid and api key secret are required for voice tokens")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &VoiceTokenIssuer{
		accountSID: cfg.AccountSID,
		keySID:     cfg.APIKeySID,
		secret:     cfg.APIKeySecret,
		appSID:     cfg.TwiMLAppSID,
		ttl:        ttl,
	}, nil
}

// Issue returns a signed token for the agent's softphone identity.
// nbf and exp are pinned to now so the returned expiry matches the token.
func (m *VoiceTokenIssuer) Issue(now time.Time, agentID string) (string, time.Time, error) {
	if agentID == "" {
		return "", time.Time{}, errors.New("telephony: agent id required")
	}
	exp := now.Add(m.ttl)

	grant := &jwt.VoiceGrant{Incoming: jwt.Incoming{Allow: true}}
	if m.appSID != "" {
		grant.Outgoing = jwt.Outgoing{ApplicationSid: m.appSID}
	}

	token := jwt.CreateAccessToken(jwt.AccessTokenParams{
		AccountSid:    m.accountSID,
		SigningKeySid: m.keySID,
		Secret:        m.secret,
		Identity:      ClientIdentity(agentID),
		Nbf:           float64(now.Unix()),
		ValidUntil:    float64(exp.Unix()),
	})
	token.AddGrant(grant)

	signed, err := token.ToJwt()
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
