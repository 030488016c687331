package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"

	"thumbforge-server/modules/billing"
	"thumbforge-server/modules/callback"
	"thumbforge-server/modules/common/admin"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/config"
	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/database/memstore"
	"thumbforge-server/modules/common/redis"
	"thumbforge-server/modules/common/storage"
	"thumbforge-server/modules/generation"
	"thumbforge-server/modules/portrait"
	"thumbforge-server/modules/profile"
	"thumbforge-server/modules/quota"
	"thumbforge-server/modules/status"
	"thumbforge-server/modules/upload"
)

// App - 서버 구성 요소 묶음
type App struct {
	cfg     *config.Config
	store   database.Store
	objects storage.ObjectStore
	rdb     *goredis.Client
	hub     *status.Hub
}

func newApp(cfg *config.Config) (*App, error) {
	var store database.Store
	switch cfg.DataBackend {
	case config.DataMemory:
		log.Warn().Msg("⚠️  Using in-memory datastore, data is lost on restart")
		store = memstore.New()
	default:
		client, err := database.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		store = client
	}

	objects, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	if s3, ok := objects.(*storage.S3Store); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s3.EnsureBuckets(ctx, cfg.BucketBackgrounds, cfg.BucketThumbnails, cfg.BucketPortraits); err != nil {
			return nil, fmt.Errorf("failed to ensure buckets: %w", err)
		}
	}

	var rdb *goredis.Client
	if cfg.RedisEnabled {
		// 연결 실패 시 프로세스 내부 fan-out으로 동작
		rdb = redis.Connect(cfg)
		if rdb == nil {
			log.Warn().Msg("⚠️  Redis unavailable, live status limited to this instance")
		}
	}

	stripe.Key = cfg.StripeSecretKey

	return &App{
		cfg:     cfg,
		store:   store,
		objects: objects,
		rdb:     rdb,
		hub:     status.NewHub(rdb),
	}, nil
}

func (a *App) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

// router - 모든 모듈 라우트 등록
func (a *App) router() http.Handler {
	cfg := a.cfg

	plans := quota.NewPlanTable(cfg.StripePricePro, cfg.StripePriceAgency)
	quotaService := quota.NewService(a.store, admin.NewChecker(cfg.AdminEmails), plans, cfg.QuotaLocation)

	generationService := generation.NewService(
		a.store,
		quotaService,
		a.objects,
		generation.NewOrchestratorClient(cfg.OrchestratorWebhookURL, cfg.OrchestratorTimeout),
		a.hub,
		generation.Options{
			BackgroundBucket: cfg.BucketBackgrounds,
			SupabaseURL:      cfg.SupabaseURL,
			CallbackURL:      cfg.CallbackURL(),
			DispatchTimeout:  cfg.OrchestratorTimeout,
		},
	)

	callbackVerifier := callback.NewVerifier(cfg.CallbackSignatureMode, cfg.CallbackSecret)
	if callbackVerifier.Mode() == config.SignatureUnverified {
		log.Warn().Msg("⚠️  [Callback] Signature verification disabled, any caller can finalize generations")
	}

	ingestor := callback.NewIngestor(
		a.store,
		a.objects,
		a.hub,
		callbackVerifier,
		callback.Options{
			ThumbnailBucket: cfg.BucketThumbnails,
			UpsertItems:     cfg.CallbackUpsertItems,
			ConvertWebP:     cfg.ThumbnailFormat == config.ThumbnailFormatWebP,
			WebPQuality:     cfg.WebPQuality,
			DownloadTimeout: cfg.ImageDownloadTimeout,
		},
	)

	billingHandler := billing.NewHandler(
		cfg.StripeWebhookSecret,
		billing.NewReconciler(a.store, billing.NewStripeFetcher()),
		billing.NewSessions(a.store, plans, cfg.AppURL),
	)

	verifier := auth.NewVerifier(cfg.SupabaseJWTSecret)

	r := mux.NewRouter()
	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// 웹훅 - 서명으로 인증
	webhooks := api.NewRoute().Subrouter()
	callback.NewHandler(ingestor).RegisterRoutes(webhooks)
	billingHandler.RegisterWebhookRoutes(webhooks)

	// 사용자 API
	protected := api.NewRoute().Subrouter()
	protected.Use(verifier.Middleware)
	quota.NewHandler(quotaService).RegisterRoutes(protected)
	upload.NewHandler(upload.NewBroker(a.objects, cfg.BucketBackgrounds)).RegisterRoutes(protected)
	generation.NewHandler(generationService).RegisterRoutes(protected)
	portrait.NewHandler(portrait.NewService(a.store, a.objects, cfg.BucketPortraits)).RegisterRoutes(protected)
	profile.NewHandler(profile.NewService(a.store)).RegisterRoutes(protected)
	billingHandler.RegisterRoutes(protected)

	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(verifier.Middleware)
	status.NewHandler(a.hub, a.store).RegisterRoutes(ws)

	return enableCORS(r)
}

func (a *App) server() *http.Server {
	return &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// CORS 헤더 추가 (preflight는 라우팅 전에 응답)
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Stripe-Signature, "+callback.SignatureHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "thumbforge-server",
		"version": version,
	})
}
