// Package client is the thin external façade over pkg/pubsub: projectId
// resolution, GCP-style resource name formatting, and memoized
// topic/subscription/schema factories. It is a collaborator specified only
// at its contract, not a broker concern — the broker (pkg/pubsub.MessageQueue)
// remains the only mutator of queue state.
package client

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/donlair/pubsub-sub001/pkg/concurrency"
	"github.com/donlair/pubsub-sub001/pkg/pubsub"
	"github.com/donlair/pubsub-sub001/pkg/pubsub/flowcontrol"
	"github.com/donlair/pubsub-sub001/pkg/pubsub/publisher"
	"github.com/donlair/pubsub-sub001/pkg/pubsub/schema"
	"github.com/donlair/pubsub-sub001/pkg/pubsub/subscriber"
)

const defaultProjectID = "local-project"

// Option configures a Client.
type Option func(*options)

type options struct {
	projectID    string
	emulatorMode *bool
}

// WithProjectID overrides projectId resolution at the explicit-arg priority
// level.
func WithProjectID(id string) Option {
	return func(o *options) { o.projectID = id }
}

// WithEmulatorMode overrides the PUBSUB_EMULATOR_HOST auto-detection.
func WithEmulatorMode(enabled bool) Option {
	return func(o *options) { o.emulatorMode = &enabled }
}

// Client is the memoizing façade over one broker instance.
type Client struct {
	projectID    string
	emulatorMode bool

	broker *pubsub.MessageQueue

	mu            *concurrency.SmartMutex
	topics        map[string]*Topic
	subscriptions map[string]*Subscription
	schemas       map[string]*schema.Entry
}

// New resolves projectId/emulatorMode and builds a Client backed by a fresh
// broker instance.
func New(opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		projectID:     resolveProjectID(o.projectID),
		emulatorMode:  resolveEmulatorMode(o.emulatorMode),
		broker:        pubsub.NewMessageQueue(),
		mu:            concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "PubSubClient"}),
		topics:        make(map[string]*Topic),
		subscriptions: make(map[string]*Subscription),
		schemas:       make(map[string]*schema.Entry),
	}
}

func resolveProjectID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, env := range []string{"PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return defaultProjectID
}

func resolveEmulatorMode(override *bool) bool {
	if override != nil {
		return *override
	}
	return os.Getenv("PUBSUB_EMULATOR_HOST") != ""
}

// ProjectID returns the resolved project id.
func (c *Client) ProjectID() string { return c.projectID }

// EmulatorMode reports the resolved emulator mode: the WithEmulatorMode
// override if one was given, otherwise whether PUBSUB_EMULATOR_HOST is set.
// It is exposed for API parity with the real client and does not change
// how this in-process backend behaves.
func (c *Client) EmulatorMode() bool { return c.emulatorMode }

// TopicName formats a fully-qualified topic resource name.
func (c *Client) TopicName(name string) string {
	return fmt.Sprintf("projects/%s/topics/%s", c.projectID, name)
}

// SubscriptionName formats a fully-qualified subscription resource name.
func (c *Client) SubscriptionName(name string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", c.projectID, name)
}

// SchemaName formats a fully-qualified schema resource name.
func (c *Client) SchemaName(id string) string {
	return fmt.Sprintf("projects/%s/schemas/%s", c.projectID, id)
}

// Topic memoizes and returns the Topic handle for name, registering it with
// the broker on first use. meta on subsequent calls for an already-memoized
// name is ignored.
func (c *Client) Topic(ctx context.Context, name string, meta pubsub.TopicMetadata) (*Topic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.topics[name]; ok {
		return t, nil
	}

	if err := c.broker.RegisterTopic(ctx, name, meta); err != nil {
		return nil, err
	}
	t := &Topic{
		client: c,
		name:   name,
		// Publisher-side ordering is always on: it only changes whether a
		// publish with a non-empty orderingKey gets its own per-key batch
		// instead of sharing the topic's default batch. Ordering's delivery
		// guarantee is enforced subscription-side by MessageStream, gated on
		// each subscription's own EnableMessageOrdering.
		pub: publisher.New(c.broker, name, true, flowcontrol.NewPublisher(0, 0), publisher.DefaultBatchingConfig()),
	}
	c.topics[name] = t
	return t, nil
}

// Subscription memoizes and returns the Subscription handle for name,
// registering it with the broker on first use.
func (c *Client) Subscription(ctx context.Context, name, topicName string, cfg pubsub.SubscriptionConfig) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.subscriptions[name]; ok {
		return s, nil
	}

	if err := c.broker.RegisterSubscription(ctx, name, topicName, cfg); err != nil {
		return nil, err
	}
	s := &Subscription{
		client: c,
		name:   name,
		cfg:    cfg,
	}
	c.subscriptions[name] = s
	return s, nil
}

// Schema memoizes and returns a schema Entry handle for id. The Entry is
// kept only in this Client's cache, not in a schema.Registry.
func (c *Client) Schema(id string, def schema.Definition) *schema.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.schemas[id]; ok {
		return e
	}
	e := schema.NewEntry(id, def)
	c.schemas[id] = e
	return e
}

// Close releases the underlying broker. Topics/Subscriptions obtained from
// this Client become unusable afterward.
func (c *Client) Close() {
	c.broker.Close()
}

// Topic is a memoized publish handle bound to one topic name.
type Topic struct {
	client *Client
	name   string
	pub    *publisher.Publisher
}

// Publish batches and admits one message.
func (t *Topic) Publish(ctx context.Context, data []byte, attrs map[string]string, orderingKey string) (*publisher.Result, error) {
	return t.pub.Publish(ctx, data, attrs, orderingKey)
}

// Flush immediately settles every pending batch on this topic.
func (t *Topic) Flush() { t.pub.Flush() }

// ResumePublishing clears a paused ordering key.
func (t *Topic) ResumePublishing(orderingKey string) { t.pub.ResumePublishing(orderingKey) }

// Subscription is a memoized consume handle bound to one subscription name.
type Subscription struct {
	client *Client
	name   string
	cfg    pubsub.SubscriptionConfig
}

// Receive builds and starts a MessageStream dispatching to handler. The
// returned stream must be Stop()'d by the caller.
func (s *Subscription) Receive(ctx context.Context, streaming subscriber.StreamingOptions, closeOpts subscriber.CloseOptions, handler subscriber.ConsumerFunc) *subscriber.MessageStream {
	flow := flowcontrol.New(s.cfg.FlowControl.MaxMessages, s.cfg.FlowControl.MaxBytes, s.cfg.FlowControl.AllowExcessMessages)
	ackDeadline := time.Duration(s.cfg.AckDeadlineSeconds) * time.Second
	ms := subscriber.New(s.client.broker, s.name, s.cfg.EnableMessageOrdering, ackDeadline, flow, streaming, closeOpts, handler)
	ms.Start(ctx)
	return ms
}
