package webhook

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/common/config"
	"github.com/ikido/fleetctl/internal/common/httpmw"
	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/pkg/api"
)

// TriggerFunc invokes the Fleet Manager's trigger() operation for a
// matched route. resumeSessionID is empty when no conversation key was
// found for this delivery.
type TriggerFunc func(ctx *gin.Context, agentName, prompt, resumeSessionID string) (api.TriggerResult, error)

// SessionKeyStore resolves and persists the conversation key bound to a
// webhook-derived session key (e.g. an issue id), scoped per agent.
type SessionKeyStore interface {
	Lookup(agentName, sessionKey string) (sessionID string, ok bool)
	Remember(agentName, sessionKey, sessionID string) error
}

// Ingestor is the Webhook Ingestor (C11). It owns one HTTP route tree for
// every configured provider and dispatches matched deliveries to trigger.
type Ingestor struct {
	cfg     config.WebhookConfig
	trigger TriggerFunc
	keys    SessionKeyStore
	idem    *idempotencySet
	log     *logger.Logger
}

// New constructs an Ingestor. secretEnv lookups read the process
// environment directly (raw secrets never live in config files).
func New(cfg config.WebhookConfig, trigger TriggerFunc, keys SessionKeyStore, log *logger.Logger) *Ingestor {
	return &Ingestor{
		cfg:     cfg,
		trigger: trigger,
		keys:    keys,
		idem:    newIdempotencySet(cfg.IdempotencyTTL()),
		log:     log,
	}
}

// Register mounts the ingestor's routes under cfg.Path on engine, one
// route per configured provider: <path>/<provider>.
func (in *Ingestor) Register(engine *gin.Engine) {
	group := engine.Group(in.cfg.Path, httpmw.RequestLogger(in.log, "webhook"), httpmw.OtelTracing("webhook"))
	for name := range in.cfg.Providers {
		providerName := name
		group.POST("/"+providerName, func(c *gin.Context) {
			in.handle(c, providerName)
		})
	}
}

func (in *Ingestor) handle(c *gin.Context, providerName string) {
	provider, ok := in.cfg.Providers[providerName]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if err := in.verify(provider, c.Request, body); err != nil {
		in.log.Warn("webhook signature verification failed", zap.String("provider", providerName), zap.Error(err))
		c.Status(http.StatusUnauthorized)
		return
	}

	deliveryID := c.Request.Header.Get("X-Delivery-Id")
	if deliveryID == "" {
		deliveryID = c.Request.Header.Get("X-GitHub-Delivery")
	}
	if deliveryID != "" && in.idem.seenBefore(deliveryID, time.Now().UTC()) {
		c.Status(http.StatusAccepted) // already handled; ack without redoing work
		return
	}

	route, ok := in.matchRoute(provider, c.Request, body)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	in.dispatch(c, route, body)
}

// verify checks the provider's configured signature header against the
// raw body. An empty SecretEnv disables verification for that provider
// (local/dev use only).
func (in *Ingestor) verify(provider config.WebhookSource, req *http.Request, body []byte) error {
	if provider.SecretEnv == "" {
		return nil
	}
	secret := os.Getenv(provider.SecretEnv)
	if secret == "" {
		return errors.New("webhook: signing secret not configured")
	}
	header := req.Header.Get(provider.SignatureHeader)
	return verifySignature([]byte(secret), body, header)
}

// matchRoute finds the first configured route whose event/action/filters
// all match the payload. "First match wins", matching the issue-tracker
// connector's routing rule (§4.9).
func (in *Ingestor) matchRoute(provider config.WebhookSource, req *http.Request, body []byte) (config.WebhookRoute, bool) {
	event := req.Header.Get("X-Event-Type")
	action := gjsonString(body, "action")
	for _, route := range provider.Routes {
		if route.Event != "" && route.Event != event {
			continue
		}
		if route.Action != "" && route.Action != action {
			continue
		}
		if !matchesFilters(route.Filters, body) {
			continue
		}
		return route, true
	}
	return config.WebhookRoute{}, false
}

func (in *Ingestor) dispatch(c *gin.Context, route config.WebhookRoute, body []byte) {
	prompt := renderPrompt(route.PromptTemplate, body)

	var resumeSessionID string
	if sessionKey, ok := resolveSessionKey(route.SessionKey, body); ok && in.keys != nil {
		if sid, found := in.keys.Lookup(route.Agent, sessionKey); found {
			resumeSessionID = sid
		}
	}

	result, err := in.trigger(c, route.Agent, prompt, resumeSessionID)
	if err != nil {
		in.log.Error("webhook-triggered job failed to start",
			zap.String("route", route.Name), zap.String("agent", route.Agent), zap.Error(err))
		c.Status(http.StatusAccepted) // delivery acknowledged; failure handled via hooks/events
		return
	}

	if result.Success && route.SessionKey != "" && result.SessionID != "" && in.keys != nil {
		if sessionKey, ok := resolveSessionKey(route.SessionKey, body); ok {
			if err := in.keys.Remember(route.Agent, sessionKey, result.SessionID); err != nil {
				in.log.Warn("failed to persist conversation key", zap.Error(err))
			}
		}
	}

	c.Status(http.StatusAccepted)
}

func gjsonString(body []byte, path string) string {
	if v, ok := resolveSessionKey(path, body); ok {
		return v
	}
	return ""
}
