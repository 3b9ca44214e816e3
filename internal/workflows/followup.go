package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// FollowupInput is the input for the reminder follow-up workflow.
type FollowupInput struct {
	ItemUID  string
	RegionID string
	Title    string
	Subtitle string
	// Delay before re-checking the item.
	Delay time.Duration
}

// FollowupWorkflow waits out the delay and re-notifies if the item is
// still incomplete. Completed or deleted items end the workflow
// quietly; the first reminder already did its job.
func FollowupWorkflow(ctx workflow.Context, input FollowupInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting follow-up workflow", "itemUID", input.ItemUID, "delay", input.Delay)

	if input.Delay <= 0 {
		input.Delay = 2 * time.Hour
	}
	if err := workflow.Sleep(ctx, input.Delay); err != nil {
		return err
	}

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	// Step 1: is the item still open?
	var itemName string
	err := workflow.ExecuteActivity(ctx, "GetIncompleteItemName", input.ItemUID).Get(ctx, &itemName)
	if err != nil {
		return err
	}
	if itemName == "" {
		logger.Info("Item completed or gone, no follow-up needed", "itemUID", input.ItemUID)
		return nil
	}

	// Step 2: re-notify.
	err = workflow.ExecuteActivity(ctx, "SendFollowupNotification",
		input.RegionID, input.Title, input.Subtitle, itemName).Get(ctx, nil)
	if err != nil {
		return err
	}

	logger.Info("Follow-up reminder sent", "itemUID", input.ItemUID)
	return nil
}
