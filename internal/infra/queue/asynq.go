package queue

import (
	"fmt"
	"time"

	"newsstand/internal/domain/cache"
	"newsstand/internal/domain/content"

	"github.com/hibiken/asynq"
)

// NewClient creates a new asynq client connected to Redis.
func NewClient(redisAddr, password string, db int) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})
}

// NewServer creates a new asynq server connected to Redis.
func NewServer(redisAddr, password string, db int, concurrency int) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"mirror":  10, // priority weight
				"default": 1,
			},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				// Exponential backoff: 10s, 20s, 40s...
				return time.Duration(10*(1<<uint(n-1))) * time.Second
			},
		},
	)
}

// EnqueueMirrorItem enqueues a mirror task for one cached article.
func EnqueueMirrorItem(client *asynq.Client, a content.Article, maxRetry int) error {
	task, err := cache.NewMirrorItemTask(a)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}

	_, err = client.Enqueue(task,
		asynq.MaxRetry(maxRetry),
		asynq.Queue("mirror"),
	)
	if err != nil {
		return fmt.Errorf("enqueuing task: %w", err)
	}

	return nil
}
