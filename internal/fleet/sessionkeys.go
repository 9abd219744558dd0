package fleet

import (
	"context"
	"time"

	"github.com/ikido/fleetctl/internal/chat"
	"github.com/ikido/fleetctl/internal/session"
)

// conversationKeyAdapter narrows session.KeyStore to the single platform
// a caller cares about, matching webhook.SessionKeyStore's
// (agentName, sessionKey) shape. The webhook ingestor uses one instance
// pinned to platform "webhook"; chat connector wiring uses one per
// platform name so the same physical store backs both without either
// caller needing to know about the other's key namespace.
type conversationKeyAdapter struct {
	keys     *session.KeyStore
	platform string
}

func (a *conversationKeyAdapter) Lookup(agentName, sessionKey string) (string, bool) {
	rec, err := a.keys.Get(a.platform, agentName, sessionKey)
	if err != nil || rec == nil {
		return "", false
	}
	return rec.SessionID, true
}

func (a *conversationKeyAdapter) Remember(agentName, sessionKey, sessionID string) error {
	return a.keys.Put(a.platform, agentName, sessionKey, session.ConversationKeyRecord{
		SessionID:      sessionID,
		LastActivityAt: time.Now().UTC(),
	})
}

// fanoutPoster implements hooks.ChatPoster by trying every registered chat
// connector in turn. A chat_post hook's Channel is meaningful only to
// whichever platform owns it, and fleetconfig.HookConfig carries no
// platform field to disambiguate, so the only scheme that works without
// extending that config shape is to offer the post to each connector and
// let the ones for which the channel doesn't resolve fail harmlessly.
type fanoutPoster struct {
	manager *Manager
}

func (p *fanoutPoster) PostToChannel(ctx context.Context, channel, message string) error {
	if len(p.manager.connectors) == 0 {
		return chat.ErrNoReplyChannel
	}
	var lastErr error
	for _, c := range p.manager.connectors {
		if err := c.PostToChannel(ctx, channel, message); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}
