package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// Dispatch enqueues one pipeline stage. The task ID is derived from the
// stage and job ID, so a duplicate submission of the same stage for the
// same job collapses into the already-queued task instead of running the
// side effects twice.
func (c *Client) Dispatch(ctx context.Context, taskType string, payload StagePayload) (*asynq.TaskInfo, error) {
	task, err := NewStageTask(taskType, payload)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(fmt.Sprintf("%s:%s", taskType, payload.JobID)),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, ErrDuplicateDispatch
	}
	return info, err
}

var ErrDuplicateDispatch = errors.New("stage already dispatched for this job")

func (c *Client) Close() error {
	return c.client.Close()
}
