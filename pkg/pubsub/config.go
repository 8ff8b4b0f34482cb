package pubsub

import "time"

// Defaults for every configuration knob the broker exposes; the config
// constructors (NewSubscriptionConfig, DefaultRetryPolicy, ...) and
// normalize start every knob here, and only values a caller sets explicitly
// move them.
const (
	DefaultAckDeadlineSeconds  = 10
	MinAckDeadlineSeconds      = 10
	MaxAckDeadlineSeconds      = 600
	DefaultRetryMinBackoff     = 10 * time.Second
	DefaultRetryMaxBackoff     = 600 * time.Second
	DefaultMessageRetention    = 7 * 24 * time.Hour
	DefaultMaxDeliveryAttempts = 5
	MinMaxDeliveryAttempts     = 5
	MaxMaxDeliveryAttempts     = 100
	DefaultSubFlowMaxMessages  = 1000
	DefaultSubFlowMaxBytes     = 100 * 1024 * 1024

	QueueSoftCapMessages = 10000
	QueueSoftCapBytes    = 100 * 1024 * 1024
	OrphanLeaseGCAge     = 10 * time.Minute
	CleanupInterval      = 60 * time.Second
)

// RetryPolicy bounds the exponential backoff applied to nacked/expired
// messages: backoff = min(maxBackoff, minBackoff * 2^(attempt-1)).
type RetryPolicy struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the 10s/600s min/max backoff defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MinBackoff: DefaultRetryMinBackoff, MaxBackoff: DefaultRetryMaxBackoff}
}

// compute returns the backoff delay for the given (already incremented)
// delivery attempt, per the GLOSSARY's definition.
func (r RetryPolicy) compute(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	min := r.MinBackoff
	if min <= 0 {
		min = DefaultRetryMinBackoff
	}
	max := r.MaxBackoff
	if max <= 0 {
		max = DefaultRetryMaxBackoff
	}
	delay := min
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		delay = max
	}
	return delay
}

// DeadLetterPolicy routes a message to an alternate topic after too many
// delivery attempts. Topic is a fully qualified topic name; zero value
// means dead-lettering is disabled for the subscription.
type DeadLetterPolicy struct {
	Topic               string
	MaxDeliveryAttempts int
}

func (d *DeadLetterPolicy) enabled() bool {
	return d != nil && d.Topic != ""
}

func (d *DeadLetterPolicy) maxAttempts() int {
	if d == nil || d.MaxDeliveryAttempts == 0 {
		return DefaultMaxDeliveryAttempts
	}
	return d.MaxDeliveryAttempts
}

// FlowControlConfig bounds a subscription's outstanding delivered-but-
// unresolved messages.
type FlowControlConfig struct {
	MaxMessages          int64
	MaxBytes             int64
	AllowExcessMessages  bool
}

// DefaultSubscriberFlowControl returns the 1000 msgs / 100 MiB /
// strict-mode defaults.
func DefaultSubscriberFlowControl() FlowControlConfig {
	return FlowControlConfig{
		MaxMessages:         DefaultSubFlowMaxMessages,
		MaxBytes:            DefaultSubFlowMaxBytes,
		AllowExcessMessages: false,
	}
}

// SubscriptionConfig is the per-subscription configuration.
// EnableMessageOrdering, RetryPolicy, DeadLetterPolicy, MessageRetention and
// FlowControl all default when left at the zero value.
type SubscriptionConfig struct {
	AckDeadlineSeconds    int
	EnableMessageOrdering bool
	RetryPolicy           RetryPolicy
	DeadLetterPolicy      *DeadLetterPolicy
	MessageRetention      time.Duration
	FlowControl           FlowControlConfig
}

// NewSubscriptionConfig returns a SubscriptionConfig with every knob at its
// package default.
func NewSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		AckDeadlineSeconds: DefaultAckDeadlineSeconds,
		RetryPolicy:        DefaultRetryPolicy(),
		MessageRetention:   DefaultMessageRetention,
		FlowControl:        DefaultSubscriberFlowControl(),
	}
}

func (c *SubscriptionConfig) normalize() {
	if c.AckDeadlineSeconds == 0 {
		c.AckDeadlineSeconds = DefaultAckDeadlineSeconds
	}
	if c.RetryPolicy.MinBackoff == 0 {
		c.RetryPolicy.MinBackoff = DefaultRetryMinBackoff
	}
	if c.RetryPolicy.MaxBackoff == 0 {
		c.RetryPolicy.MaxBackoff = DefaultRetryMaxBackoff
	}
	if c.MessageRetention == 0 {
		c.MessageRetention = DefaultMessageRetention
	}
	if c.FlowControl.MaxMessages == 0 {
		c.FlowControl.MaxMessages = DefaultSubFlowMaxMessages
	}
	if c.FlowControl.MaxBytes == 0 {
		c.FlowControl.MaxBytes = DefaultSubFlowMaxBytes
	}
}

func (c SubscriptionConfig) validate() error {
	if c.AckDeadlineSeconds < MinAckDeadlineSeconds || c.AckDeadlineSeconds > MaxAckDeadlineSeconds {
		return invalidArgumentf("ackDeadlineSeconds must be in [%d,%d]", MinAckDeadlineSeconds, MaxAckDeadlineSeconds)
	}
	if d := c.DeadLetterPolicy; d != nil && d.Topic != "" {
		if d.MaxDeliveryAttempts != 0 && (d.MaxDeliveryAttempts < MinMaxDeliveryAttempts || d.MaxDeliveryAttempts > MaxMaxDeliveryAttempts) {
			return invalidArgumentf("deadLetterPolicy.maxDeliveryAttempts must be in [%d,%d]", MinMaxDeliveryAttempts, MaxMaxDeliveryAttempts)
		}
	}
	return nil
}

// TopicMetadata carries optional, mostly-inert resource metadata attached to
// a Topic. None of it changes broker behavior. RegisterTopic stores it
// unchanged on the topic's record; no broker method returns it to a caller.
type TopicMetadata struct {
	Labels                   map[string]string
	SchemaSettings           *TopicSchemaSettings
	MessageStoragePolicy     *MessageStoragePolicy
	MessageRetentionDuration time.Duration
	KMSKeyName               string
}

// TopicSchemaSettings names the schema (see pkg/pubsub/schema) a topic's
// publishes are validated against, if any.
type TopicSchemaSettings struct {
	Schema   string
	Encoding string // "JSON" or "BINARY"
}

// MessageStoragePolicy is accepted and stored but never enforced — there is
// no multi-region storage concept in a single-process emulator.
type MessageStoragePolicy struct {
	AllowedPersistenceRegions []string
}
