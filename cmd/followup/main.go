package main

import (
	"context"
	"log"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/dhwagstaff/tbeacon/internal/adapters/nats"
	"github.com/dhwagstaff/tbeacon/internal/adapters/postgres"
	"github.com/dhwagstaff/tbeacon/internal/adapters/push"
	"github.com/dhwagstaff/tbeacon/internal/pkg/config"
	"github.com/dhwagstaff/tbeacon/internal/pkg/logging"
	"github.com/dhwagstaff/tbeacon/internal/workflows"
)

func main() {
	cfg, err := config.Load("tbeacon-followup")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("tbeacon-followup", logLevel, "json")

	ctx := context.Background()

	// Activities read item state from Postgres and push reminders
	// through the same NATS dispatch path the API uses.
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	itemRepo := postgres.NewItemRepo(db)
	notifRepo := postgres.NewNotificationLogRepo(db)
	dispatcher := push.NewDispatcher(pub, notifRepo)

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.FollowupWorkflow)
	w.RegisterActivity(&workflows.FollowupActivities{
		Items:      itemRepo,
		Dispatcher: dispatcher,
	})

	log.Println("follow-up worker started")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
