package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"artel.org/internal/controlplane"
	"artel.org/internal/httpapi"
	"artel.org/internal/identity"
	"artel.org/internal/obs"
	"artel.org/internal/policy"
	"artel.org/internal/ratelimit"
	"artel.org/internal/token"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, getenv("ARTEL_COMMIT", "unknown"))

	env := getenv("ARTEL_ENV", "development")
	app := getenv("ARTEL_APP", "storefront")

	secret := os.Getenv("ARTEL_AUTH_SECRET")
	if secret == "" {
		log.Fatal("ARTEL_AUTH_SECRET is required")
	}

	// Database: optional in development, where the in-memory directory is
	// seeded instead. /readyz pings the DB when one is configured.
	var (
		db        *sql.DB
		directory identity.Directory
	)
	if dsn := os.Getenv("ARTEL_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		directory = identity.NewPGDirectory(db)
	} else {
		if env == "production" {
			log.Fatal("ARTEL_PG_DSN is required in production")
		}
		directory = seedDevDirectory()
	}

	// Shared cache: enables cross-instance sessions, limiters and control
	// flags. Without it everything degrades to single-instance in-memory
	// equivalents.
	var rdb *redis.Client
	if addr := os.Getenv("ARTEL_REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("redis ping failed, continuing with fallbacks: %v", err)
		}
	}

	registry, err := policy.DefaultRegistry(
		getenv("ARTEL_STOREFRONT_URL", "http://localhost:3000"),
		getenv("ARTEL_STUDIO_URL", "http://localhost:3001"),
		getenv("ARTEL_ADMIN_URL", "http://localhost:3002"),
	)
	if err != nil {
		log.Fatalf("application registry: %v", err)
	}

	var sessions token.SessionStore
	var profiles *ratelimit.Profiles
	var plane controlplane.Plane
	if rdb != nil {
		sessions = token.NewRedisStore(rdb)
		profiles = ratelimit.NewRedisProfiles(rdb)
		plane = controlplane.NewRedisPlane(rdb)
	} else {
		sessions = token.NewMemoryStore()
		profiles = ratelimit.NewMemoryProfiles(0)
		plane = controlplane.Nop{}
	}

	opts := []token.Option{token.WithIssuer("artel")}
	if ttl := durationEnv("ARTEL_ACCESS_TTL"); ttl > 0 {
		opts = append(opts, token.WithAccessTTL(ttl))
	}
	if ttl := durationEnv("ARTEL_REFRESH_TTL"); ttl > 0 {
		opts = append(opts, token.WithRefreshTTL(ttl))
	}
	tokens, err := token.NewService(directory, registry, sessions, secret, opts...)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Version:       version,
		App:           app,
		Environment:   env,
		OperatorToken: os.Getenv("ARTEL_OPERATOR_TOKEN"),
		Directory:     directory,
		Registry:      registry,
		Tokens:        tokens,
		Profiles:      profiles,
		Plane:         plane,
		Ready:         httpapi.ReadyProbe{DB: db},
	})

	handler := api.Handler()
	if env != "development" {
		handler = httpapi.IngressLimit(handler, 50, 100)
	}

	srv := &http.Server{
		Addr:              getenv("ARTEL_ADDR", ":8080"),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting artel-auth %s (app=%s env=%s) on %s", version, app, env, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Println("Stopped")
}

// seedDevDirectory provides working logins for local development. The
// password is deliberately not accepted in production: the directory itself
// requires a DSN there.
func seedDevDirectory() *identity.MemDirectory {
	dir := identity.NewMemDirectory()
	password := getenv("ARTEL_DEV_PASSWORD", "artel-dev")
	hash, err := identity.HashPassword(password)
	if err != nil {
		log.Fatalf("seed directory: %v", err)
	}
	now := time.Now().UTC()
	for _, u := range []identity.Identity{
		{ID: "dev-admin", Email: "admin@artel.local", Name: "Dev Admin", Role: identity.RoleAdmin},
		{ID: "dev-operator", Email: "operator@artel.local", Name: "Dev Operator", Role: identity.RoleOperator},
		{ID: "dev-artist", Email: "artist@artel.local", Name: "Dev Artist", Role: identity.RoleArtist},
		{ID: "dev-customer", Email: "customer@artel.local", Name: "Dev Customer", Role: identity.RoleCustomer},
		{ID: "dev-service", Email: "service@artel.local", Name: "Dev Service", Role: identity.RoleService},
	} {
		u.Status = identity.StatusActive
		u.PermissionsVersion = 1
		u.CreatedAt = now
		u.UpdatedAt = now
		dir.Put(u, hash)
	}
	log.Printf("seeded %d development accounts (password via ARTEL_DEV_PASSWORD)", 5)
	return dir
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return d
}
