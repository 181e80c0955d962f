package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/config"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/eta"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/httpapi"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/hub"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/store/postgres"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var realtimeConnections = expvar.NewInt("realtime_connections")

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("ticketing-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)

	var cache eta.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		cache = eta.NewRedisCache(client)
	}
	estimatorCfg := eta.DefaultConfig()
	estimatorCfg.DefaultMinutes = float64(cfg.DefaultEstimateMinutes)
	estimatorCfg.PeakHours = cfg.PeakHours
	estimatorCfg.PeakMultiplier = cfg.PeakMultiplier
	estimatorCfg.WeekendMultiplier = cfg.WeekendMultiplier
	estimatorCfg.CacheTTL = cfg.EstimateCacheTTL
	estimator := eta.NewEstimator(st, cache, estimatorCfg)

	rooms := hub.New()
	events := hub.NewEvents(rooms)
	handler := httpapi.NewHandler(st, estimator, events)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:       cfg.RateLimitPerMinute,
		IPBurst:           cfg.RateLimitBurst,
		BusinessPerMinute: cfg.BusinessRateLimitPerMinute,
		BusinessBurst:     cfg.BusinessRateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, realtimeSession(st, rooms)))
	mux.Handle("/", httpapi.AuthMiddleware(st, handler.Routes()))

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "ticketing-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("ticketing-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// realtimeSession runs the per-connection actor: one goroutine drains the
// client's outbound stream, the loop below handles inbound membership
// commands. Which rooms a client may join is the entire authorization model
// for event delivery.
func realtimeSession(st *postgres.Store, rooms *hub.Hub) func(sockjs.Session) {
	return func(session sockjs.Session) {
		req := session.Request()
		sessionID := realtimeSessionID(req)
		if sessionID == "" {
			_ = session.Close(4001, "missing session")
			return
		}
		principal, err := st.GetPrincipal(context.Background(), sessionID)
		if err != nil {
			_ = session.Close(4002, "invalid session")
			return
		}

		client := hub.NewClient(uuid.NewString(), principal.Role)
		rooms.Register(client)
		realtimeConnections.Add(1)
		defer func() {
			rooms.Unregister(client.ID)
			realtimeConnections.Add(-1)
		}()

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			cmd, ok := hub.ParseControl([]byte(msg))
			if !ok {
				continue
			}
			switch cmd.Action {
			case hub.ActionJoinBusiness:
				// Queue boards are customer-visible, so any authenticated
				// principal may watch a business room.
				rooms.Join(client.ID, hub.BusinessRoom(cmd.BusinessID))
			case hub.ActionLeaveBusiness:
				rooms.Leave(client.ID, hub.BusinessRoom(cmd.BusinessID))
			case hub.ActionJoinUser:
				if cmd.UserID != principal.UserID && principal.Role != models.RoleAdmin {
					_ = session.Close(4003, "access denied")
					return
				}
				rooms.Join(client.ID, hub.UserRoom(cmd.UserID))
			case hub.ActionLeaveUser:
				rooms.Leave(client.ID, hub.UserRoom(cmd.UserID))
			}
		}
	}
}

func realtimeSessionID(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	if token := strings.TrimSpace(r.Header.Get("X-Session-ID")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
