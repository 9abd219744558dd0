package fleetconfig

// HookType selects the runner that executes a hook.
type HookType string

const (
	HookShell       HookType = "shell"
	HookHTTPWebhook HookType = "http_webhook"
	HookChatPost    HookType = "chat_post"
)

// HookEvent is a lifecycle point a hook slot fires at.
type HookEvent string

const (
	HookCompleted        HookEvent = "completed"
	HookFailed           HookEvent = "failed"
	HookTimeout          HookEvent = "timeout"
	HookCancelled        HookEvent = "cancelled"
	HookContextThreshold HookEvent = "context_threshold"
	HookSessionStart     HookEvent = "session_start"
)

// HookConfig is one configured hook within a slot.
type HookConfig struct {
	Name            string                 `mapstructure:"name"`
	Type            HookType               `mapstructure:"type"`
	OnEvents        []HookEvent            `mapstructure:"onEvents"`
	When            string                 `mapstructure:"when"` // dot-path predicate expression
	ContinueOnError *bool                  `mapstructure:"continueOnError"`
	Command         string                 `mapstructure:"command"` // shell
	URL             string                 `mapstructure:"url"`     // http_webhook
	Channel         string                 `mapstructure:"channel"` // chat_post
	Extra           map[string]interface{} `mapstructure:"extra"`
}

// ContinueOnErrorOrDefault returns the configured value, defaulting true.
func (h HookConfig) ContinueOnErrorOrDefault() bool {
	if h.ContinueOnError == nil {
		return true
	}
	return *h.ContinueOnError
}

// HookSlots groups hook lists by the lifecycle point they fire at.
type HookSlots struct {
	AfterRun          []HookConfig `mapstructure:"afterRun"`
	OnError           []HookConfig `mapstructure:"onError"`
	OnContextThreshold []HookConfig `mapstructure:"onContextThreshold"`
	OnSessionStart    []HookConfig `mapstructure:"onSessionStart"`
}

// Slot returns the hooks registered for the given lifecycle event.
func (s HookSlots) Slot(event HookEvent) []HookConfig {
	switch event {
	case HookContextThreshold:
		return s.OnContextThreshold
	case HookSessionStart:
		return s.OnSessionStart
	case HookFailed, HookTimeout, HookCancelled:
		return s.OnError
	default:
		return s.AfterRun
	}
}
