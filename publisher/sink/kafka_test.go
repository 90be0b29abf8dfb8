package sink

import (
	"errors"
	"sync"
	"testing"

	"github.com/maxpert/lwt/cfg"
	"github.com/maxpert/lwt/publisher"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKafkaConfig(t *testing.T) {
	config := DefaultKafkaConfig([]string{"localhost:9092"})
	assert.Equal(t, []string{"localhost:9092"}, config.Brokers)
	assert.Equal(t, DefaultKafkaBatchSize, config.BatchSize)
	assert.EqualValues(t, DefaultKafkaBatchBytes, config.BatchBytes)
	assert.Equal(t, kafka.RequireAll, config.RequiredAcks)
	assert.True(t, config.AutoCreateTopics)
	assert.Equal(t, DefaultKafkaWriteTimeout, config.WriteTimeout)
}

func TestNewKafkaSink(t *testing.T) {
	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultKafkaBatchSize, sink.writer.BatchSize)
	assert.EqualValues(t, DefaultKafkaBatchBytes, sink.writer.BatchBytes)
	assert.Equal(t, DefaultKafkaWriteTimeout, sink.timeout)
	assert.IsType(t, &kafka.Hash{}, sink.writer.Balancer)
	assert.NoError(t, sink.Close())
}

func TestNewKafkaSinkEmptyBrokers(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{})
	assert.Error(t, err)
}

func TestSinkFactories(t *testing.T) {
	reg, err := publisher.NewRegistry(publisher.RegistryConfig{
		DataDir: t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{
			{Name: "k", Type: "kafka", Brokers: []string{"localhost:9092"}, BatchSize: 10},
			{Name: "m", Type: "mock"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Start())
	reg.Stop()

	_, err = publisher.NewRegistry(publisher.RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "n", Type: "nats"}},
	})
	assert.ErrorContains(t, err, "nats_url")
}

func TestSanitizeStreamName(t *testing.T) {
	assert.Equal(t, "lwt_bank_accounts", sanitizeStreamName("lwt.bank.accounts"))
	assert.Equal(t, "plain", sanitizeStreamName("plain"))
}

func TestMockSink_Publish(t *testing.T) {
	mock := &MockSink{}
	require.NoError(t, mock.Publish("test-topic", "key1", []byte("value1")))
	require.NoError(t, mock.Publish("test-topic", "key1", nil))

	msgs := mock.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, MockMessage{Topic: "test-topic", Key: "key1", Value: []byte("value1")}, msgs[0])
	assert.Nil(t, msgs[1].Value, "tombstone carries no value")

	mock.Reset()
	assert.Empty(t, mock.Snapshot())
	assert.NoError(t, mock.Close())
}

func TestMockSink_PublishError(t *testing.T) {
	expectedErr := errors.New("publish failed")
	mock := &MockSink{PublishErr: expectedErr}
	assert.ErrorIs(t, mock.Publish("test-topic", "key1", []byte("value1")), expectedErr)
	assert.Empty(t, mock.Snapshot())
}

func TestMockSink_Concurrent(t *testing.T) {
	mock := &MockSink{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mock.Publish("topic", "key", []byte("value"))
		}()
	}
	wg.Wait()
	assert.Len(t, mock.Snapshot(), 10)
}
