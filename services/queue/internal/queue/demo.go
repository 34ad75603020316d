package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/seed"
	"go.mongodb.org/mongo-driver/mongo"
)

const queueDemoSeedApplication = "queue_demo"

type demoOrder struct {
	name    string
	phone   string
	items   []Item
	approve bool
	paid    bool
}

var demoOrders = []demoOrder{
	{name: "Asha", phone: "0711000001", items: []Item{{Name: "Masala Dosa", UnitPrice: 450, Quantity: 2}}, approve: true, paid: true},
	{name: "Bruno", phone: "0711000002", items: []Item{{Name: "Chicken Kottu", UnitPrice: 900, Quantity: 1}, {Name: "Lime Juice", UnitPrice: 250, Quantity: 1}}, approve: true},
	{name: "Chen", phone: "0711000003", items: []Item{{Name: "Egg Hopper", UnitPrice: 120, Quantity: 4}}, approve: true},
	{name: "Dilani", phone: "0711000004", items: []Item{{Name: "Veg Fried Rice", UnitPrice: 700, Quantity: 1}}},
	{name: "Emil", phone: "0711000005", items: []Item{{Name: "Iced Coffee", UnitPrice: 350, Quantity: 2}}},
}

// ApplyDemoSeeds fills the active session with a few orders, some approved,
// and calls the first ticket.
func ApplyDemoSeeds(ctx context.Context, svc *Service, db *mongo.Database, logger apt.Logger) error {
	if db == nil {
		return errors.New("database is required for demo seeding")
	}
	if svc == nil {
		return errors.New("service is required for demo seeding")
	}

	tracker := seed.NewMongoTracker(db)

	logger.Info("Applying demo queue seeds")
	if err := seed.Apply(ctx, tracker, buildDemoSeeds(svc, logger), queueDemoSeedApplication); err != nil {
		return err
	}
	logger.Info("Demo queue seeds applied successfully")
	return nil
}

func buildDemoSeeds(svc *Service, logger apt.Logger) []seed.Seed {
	return []seed.Seed{
		{
			ID:          "2026-10-01_demo_queue_v1",
			Description: "Create demo orders in the active session and serve the first ticket",
			Run: func(ctx context.Context) error {
				return seedDemoQueue(ctx, svc, logger)
			},
		},
	}
}

func seedDemoQueue(ctx context.Context, svc *Service, logger apt.Logger) error {
	session, err := svc.ActiveSession(ctx)
	if err != nil {
		return fmt.Errorf("resolve active session: %w", err)
	}

	for _, d := range demoOrders {
		order, err := svc.SubmitOrder(ctx, SubmitRequest{
			CustomerName: d.name,
			Phone:        d.phone,
			Items:        d.items,
			SessionID:    session,
		})
		if err != nil {
			return fmt.Errorf("submit demo order for %s: %w", d.name, err)
		}

		if d.approve {
			token, err := svc.ApproveOrder(ctx, order.ID)
			if err != nil {
				return fmt.Errorf("approve demo order for %s: %w", d.name, err)
			}
			logger.Debug("demo order approved", "customer", d.name, "token", int(token))
		}
		if d.paid {
			if _, err := svc.MarkPaid(ctx, order.ID, true); err != nil {
				return fmt.Errorf("mark demo order paid for %s: %w", d.name, err)
			}
		}
	}

	if _, err := svc.CallNext(ctx, session); err != nil {
		return fmt.Errorf("call first demo ticket: %w", err)
	}
	return nil
}

// DemoSeedingFunc returns a lifecycle start hook that seeds in the
// background so startup is not delayed.
func DemoSeedingFunc(seedCtx context.Context, svc *Service, db *mongo.Database, logger apt.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	return func(ctx context.Context) error {
		logger.Info("Starting demo queue seeding in background")
		go func() {
			if err := ApplyDemoSeeds(seedCtx, svc, db, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Demo queue seeds failed: %v", err)
			} else if err == nil {
				logger.Info("Demo queue seeding completed successfully")
			}
		}()
		return nil
	}
}
