package kafka

import "time"

// Option is a functional option for configuring the transport.
type Option func(*config)

type config struct {
	brokers      []string
	topicPrefix  string
	publishRate  float64
	batchTimeout time.Duration
	writeTimeout time.Duration
	requiredAcks int
	maxRetries   uint64
	retryBackoff time.Duration
	maxBackoff   time.Duration
}

func defaultConfig() *config {
	return &config{
		publishRate:  2_000,
		batchTimeout: 10 * time.Millisecond,
		writeTimeout: 10 * time.Second,
		requiredAcks: -1,
		maxRetries:   3,
		retryBackoff: 100 * time.Millisecond,
		maxBackoff:   2 * time.Second,
	}
}

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(c *config) {
		if len(brokers) > 0 {
			c.brokers = brokers
		}
	}
}

// WithTopicPrefix prepends a namespace to every logical topic, so one
// cluster can host several deployments.
func WithTopicPrefix(prefix string) Option {
	return func(c *config) {
		c.topicPrefix = prefix
	}
}

// WithPublishRate declares the sustained events-per-second throughput the
// cluster is provisioned for. Emitters use it for overflow admission.
func WithPublishRate(rate float64) Option {
	return func(c *config) {
		if rate > 0 {
			c.publishRate = rate
		}
	}
}

// WithBatchTimeout sets the maximum time the writer waits before sending a
// partial batch.
func WithBatchTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.batchTimeout = timeout
		}
	}
}

// WithWriteTimeout sets the timeout for write operations.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// WithRequiredAcks sets the required number of acknowledgments.
// -1=all, 0=none, 1=leader.
func WithRequiredAcks(acks int) Option {
	return func(c *config) {
		c.requiredAcks = acks
	}
}

// WithMaxRetries sets the maximum number of retry attempts per batch.
func WithMaxRetries(maxRetries uint64) Option {
	return func(c *config) {
		c.maxRetries = maxRetries
	}
}

// WithRetryBackoff sets the initial and maximum backoff between retries.
func WithRetryBackoff(initial, max time.Duration) Option {
	return func(c *config) {
		if initial > 0 {
			c.retryBackoff = initial
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}
