package client_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/donlair/pubsub-sub001/pkg/pubsub"
	"github.com/donlair/pubsub-sub001/pkg/pubsub/client"
	"github.com/donlair/pubsub-sub001/pkg/pubsub/schema"
	"github.com/donlair/pubsub-sub001/pkg/pubsub/subscriber"
	"github.com/stretchr/testify/require"
)

func TestProjectIDResolutionPriority(t *testing.T) {
	os.Unsetenv("PUBSUB_PROJECT_ID")
	os.Unsetenv("GOOGLE_CLOUD_PROJECT")
	os.Unsetenv("GCLOUD_PROJECT")

	c := client.New()
	require.Equal(t, "local-project", c.ProjectID())
	c.Close()

	os.Setenv("GCLOUD_PROJECT", "from-gcloud")
	defer os.Unsetenv("GCLOUD_PROJECT")
	c = client.New()
	require.Equal(t, "from-gcloud", c.ProjectID())
	c.Close()

	os.Setenv("GOOGLE_CLOUD_PROJECT", "from-google-cloud")
	defer os.Unsetenv("GOOGLE_CLOUD_PROJECT")
	c = client.New()
	require.Equal(t, "from-google-cloud", c.ProjectID())
	c.Close()

	os.Setenv("PUBSUB_PROJECT_ID", "from-pubsub")
	defer os.Unsetenv("PUBSUB_PROJECT_ID")
	c = client.New()
	require.Equal(t, "from-pubsub", c.ProjectID())
	c.Close()

	c = client.New(client.WithProjectID("explicit"))
	require.Equal(t, "explicit", c.ProjectID())
	c.Close()
}

func TestResourceNameFormatting(t *testing.T) {
	c := client.New(client.WithProjectID("proj"))
	defer c.Close()

	require.Equal(t, "projects/proj/topics/t1", c.TopicName("t1"))
	require.Equal(t, "projects/proj/subscriptions/s1", c.SubscriptionName("s1"))
	require.Equal(t, "projects/proj/schemas/sc1", c.SchemaName("sc1"))
}

func TestTopicAndSchemaAreMemoized(t *testing.T) {
	c := client.New()
	defer c.Close()

	t1, err := c.Topic(context.Background(), "t1", pubsub.TopicMetadata{})
	require.NoError(t, err)
	t2, err := c.Topic(context.Background(), "t1", pubsub.TopicMetadata{Labels: map[string]string{"x": "y"}})
	require.NoError(t, err)
	require.Same(t, t1, t2)

	e1 := c.Schema("sc1", schema.Definition{Encoding: schema.EncodingAvro})
	e2 := c.Schema("sc1", schema.Definition{Encoding: schema.EncodingProtobuf})
	require.Same(t, e1, e2)
}

func TestPublishAndReceiveThroughFacade(t *testing.T) {
	c := client.New()
	defer c.Close()

	topic, err := c.Topic(context.Background(), "orders", pubsub.TopicMetadata{})
	require.NoError(t, err)

	sub, err := c.Subscription(context.Background(), "orders-sub", "orders", pubsub.NewSubscriptionConfig())
	require.NoError(t, err)

	received := make(chan string, 1)
	ms := sub.Receive(context.Background(),
		subscriber.StreamingOptions{MaxStreams: 1, PullInterval: 5 * time.Millisecond, MaxPullSize: 10},
		subscriber.CloseOptions{Behavior: subscriber.WaitForCompletion, Timeout: time.Second},
		func(ctx context.Context, d *subscriber.Delivery) {
			received <- string(d.Message.Data)
			d.Ack()
		},
	)
	defer ms.Stop()

	result, err := topic.Publish(context.Background(), []byte("hello"), nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := result.Get(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case got := <-received:
		require.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}
