package jobqueue

import (
	"os"
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Number of concurrent workers processing jobs (default: 10)

	// Retry Configuration
	MaxRetries int           // Maximum retry attempts per job (default: 25)
	JobTimeout time.Duration // Maximum time a single job can run (default: 2 minutes)

	// BotReplyDelay is how long the auto-reply waits before posting, so the
	// acknowledgment does not land before the customer's message renders.
	BotReplyDelay time.Duration
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:    10,
		MaxRetries:    25,
		JobTimeout:    2 * time.Minute,
		BotReplyDelay: 2 * time.Second,
	}
}

// DevelopmentQueueConfig returns a configuration optimized for development
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	config.MaxWorkers = 3
	config.MaxRetries = 5
	config.JobTimeout = 30 * time.Second
	config.BotReplyDelay = 0

	return config
}

// GetQueueConfig returns the appropriate configuration based on environment
func GetQueueConfig() *QueueConfig {
	if os.Getenv("TRAFFICAI_ENV") == "development" {
		return DevelopmentQueueConfig()
	}
	return DefaultQueueConfig()
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
