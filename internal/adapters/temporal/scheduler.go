// Package temporaladapter starts follow-up workflows on a Temporal
// cluster, implementing the follow-up scheduler port.
package temporaladapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/workflows"
)

// Scheduler implements ports.FollowupScheduler.
type Scheduler struct {
	client    client.Client
	taskQueue string
	delay     time.Duration
}

// New connects to Temporal and returns a Scheduler.
func New(hostPort, namespace, taskQueue string, delay time.Duration) (*Scheduler, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	return &Scheduler{client: c, taskQueue: taskQueue, delay: delay}, nil
}

// ScheduleFollowup starts the follow-up workflow for an item. The
// workflow id is derived from the item so repeated region entries do
// not stack duplicate follow-ups while one is already pending.
func (s *Scheduler) ScheduleFollowup(ctx context.Context, item domain.Item, n domain.Notification) error {
	opts := client.StartWorkflowOptions{
		ID:        "followup-" + item.UID,
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, opts, workflows.FollowupWorkflow, workflows.FollowupInput{
		ItemUID:  item.UID,
		RegionID: n.RegionID,
		Title:    n.Title,
		Subtitle: n.Subtitle,
		Delay:    s.delay,
	})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil
		}
		return fmt.Errorf("start follow-up workflow: %w", err)
	}
	return nil
}

// Close releases the Temporal client.
func (s *Scheduler) Close() {
	s.client.Close()
}
