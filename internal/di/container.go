package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/tradeyard/api/internal/handlers"
	"github.com/tradeyard/api/internal/platform/auth"
	"github.com/tradeyard/api/internal/platform/config"
	fs "github.com/tradeyard/api/internal/platform/firestore"
	"github.com/tradeyard/api/internal/platform/idempotency"
	"github.com/tradeyard/api/internal/platform/jobs"
	"github.com/tradeyard/api/internal/platform/observability"
	"github.com/tradeyard/api/internal/repositories"
	"github.com/tradeyard/api/internal/services"
)

// Services bundles the service-layer contracts the HTTP handlers rely upon.
type Services struct {
	Checkout   services.CheckoutService
	Orders     services.OrderService
	Loyalty    services.LoyaltyService
	Promotions services.PromotionService
}

// Container wires repositories, services, transport, and background
// infrastructure for runtime use.
type Container struct {
	Config           config.Config
	Logger           *zap.Logger
	Services         Services
	Router           chi.Router
	IdempotencyStore *idempotency.FirestoreStore

	firestoreProvider *fs.Provider
	pubsubClient      *pubsub.Client
	orderTopic        *pubsub.Topic
}

// NewContainer constructs the runtime dependency graph from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := fs.NewProvider(cfg.Firestore)
	client, err := provider.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firestore client: %w", err)
	}

	catalogRepo, err := repositories.NewFirestoreCatalogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build catalog repository: %w", err)
	}
	promotionRepo, err := repositories.NewFirestorePromotionRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build promotion repository: %w", err)
	}
	orderRepo, err := repositories.NewFirestoreOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	loyaltyRepo, err := repositories.NewFirestoreLoyaltyRepository(provider, time.Now)
	if err != nil {
		return nil, fmt.Errorf("build loyalty repository: %w", err)
	}

	promotionSvc, err := services.NewPromotionService(services.PromotionServiceDeps{
		Promotions: promotionRepo,
		Orders:     orderRepo,
		Clock:      time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build promotion service: %w", err)
	}

	loyaltySvc, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{
		Ledger:              loyaltyRepo,
		Actions:             cfg.Loyalty.Actions,
		AwardPointsPerUnit:  cfg.Loyalty.AwardPointsPerUnit,
		RedeemPointsPerUnit: cfg.Loyalty.RedeemPointsPerUnit,
		Precision:           cfg.Pricing.Precision,
		Clock:               time.Now,
		Logger:              zapEventLogger(logger.Named("loyalty")),
	})
	if err != nil {
		return nil, fmt.Errorf("build loyalty service: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("initialise pubsub client: %w", err)
	}
	orderTopic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
	publisher, err := jobs.NewPubSubOrderPublisher(orderTopic)
	if err != nil {
		return nil, fmt.Errorf("build order event publisher: %w", err)
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Stores:          catalogRepo,
		Products:        catalogRepo.Products(),
		Discounts:       catalogRepo.Discounts(),
		Taxes:           catalogRepo.Taxes(),
		ShippingMethods: catalogRepo.ShippingMethods(),
		Orders:          orderRepo,
		Promotions:      promotionSvc,
		Pricing:         services.NewPricingEngine(cfg.Pricing.Precision),
		Loyalty:         loyaltySvc,
		Events:          publisher,
		Currency:        cfg.Pricing.Currency,
		Precision:       cfg.Pricing.Precision,
		Clock:           time.Now,
		Logger:          zapEventLogger(logger.Named("checkout")),
	})
	if err != nil {
		return nil, fmt.Errorf("build checkout service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: orderRepo,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}

	firebaseCfg := cfg.Firebase
	if strings.TrimSpace(firebaseCfg.ProjectID) == "" {
		firebaseCfg.ProjectID = cfg.Firestore.ProjectID
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, firebaseCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(verifier)

	idempotencyStore := idempotency.NewFirestoreStore(client)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, checkoutSvc)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderSvc)
	loyaltyHandlers := handlers.NewLoyaltyHandlers(authenticator, loyaltySvc)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessChecks(handlers.ReadinessCheck{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				iter := client.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		}),
	)

	projectID := cfg.Firestore.ProjectID
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithCheckoutMiddlewares(idempotencyMiddleware),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithLoyaltyRoutes(loyaltyHandlers.Routes),
	)

	return &Container{
		Config: cfg,
		Logger: logger,
		Services: Services{
			Checkout:   checkoutSvc,
			Orders:     orderSvc,
			Loyalty:    loyaltySvc,
			Promotions: promotionSvc,
		},
		Router:            router,
		IdempotencyStore:  idempotencyStore,
		firestoreProvider: provider,
		pubsubClient:      pubsubClient,
		orderTopic:        orderTopic,
	}, nil
}

// Close flushes the event topic and releases backend clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}

	var errs []error
	if c.orderTopic != nil {
		c.orderTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.firestoreProvider != nil {
		if err := c.firestoreProvider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info("service event", zFields...)
	}
}
