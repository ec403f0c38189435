package types

type TriggerKind string

const (
	TriggerRequest   TriggerKind = "request"
	TriggerScheduled TriggerKind = "scheduled"
)

// DefaultHandlerName is the logical name served for the root path.
const DefaultHandlerName = "index"

type Request struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   map[string]string `json:"query"`
	Headers map[string]string `json:"headers"`
	Body    *string           `json:"body"`
}

type Response struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    interface{}       `json:"body,omitempty"`
}

// ScheduledEnvelope is the payload of a scheduled trigger: {"zap":{"cron":"name"}}.
type ScheduledEnvelope struct {
	Zap *ScheduledTarget `json:"zap"`
}

type ScheduledTarget struct {
	Cron string `json:"cron"`
}

func NewScheduledEnvelope(name string) *ScheduledEnvelope {
	return &ScheduledEnvelope{Zap: &ScheduledTarget{Cron: name}}
}

func (e *ScheduledEnvelope) IsScheduled() bool {
	return e != nil && e.Zap != nil && e.Zap.Cron != ""
}

// Result is the serialized outcome handed back to a request host.
type Result struct {
	Status  int               `json:"statusCode"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}
