package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/hospital/hms/internal/config"
	"github.com/hospital/hms/internal/domain/hospital"
	"github.com/hospital/hms/internal/domain/identity"
	"github.com/hospital/hms/internal/domain/records"
	"github.com/hospital/hms/internal/domain/scheduling"
	"github.com/hospital/hms/internal/otp"
	"github.com/hospital/hms/internal/platform/auth"
	"github.com/hospital/hms/internal/platform/blobstore"
	"github.com/hospital/hms/internal/platform/db"
	"github.com/hospital/hms/internal/platform/fieldcrypt"
	"github.com/hospital/hms/internal/platform/metrics"
	"github.com/hospital/hms/internal/platform/middleware"
	"github.com/hospital/hms/internal/platform/notification"
)

// backends are the stateful pieces the HTTP layer is built on. runServer
// fills them from config; tests fill them with in-memory versions.
type backends struct {
	users        identity.UserRepository
	hospitals    hospital.Repository
	appointments scheduling.Repository
	records      records.RecordRepository
	codes        otp.Store
	blobs        blobstore.BlobStore
	notifier     *notification.Manager
	audit        middleware.AuditRecorder

	pinger    db.Pinger
	poolStats func() *db.PoolStats
	gatherer  prometheus.Gatherer
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	key, err := signingKey(cfg, logger)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	cipher, err := fieldcrypt.New(cfg.RecordEncryptionKey, logger)
	if err != nil {
		return err
	}

	codes, sweeper := newOTPStore(cfg, pool)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go otp.RunSweeper(sweepCtx, sweeper, cfg.OTPSweepInterval, logger)
	logger.Info().Str("backend", cfg.OTPStore).Int("length", cfg.OTPLength).Dur("ttl", cfg.OTPTTL).Msg("otp store ready")

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	b := backends{
		users:        identity.NewUserRepoPG(pool, cipher),
		hospitals:    hospital.NewRepoPG(pool),
		appointments: scheduling.NewRepoPG(pool),
		records:      records.NewRecordRepoPG(pool, cipher),
		codes:        codes,
		blobs:        blobs,
		notifier:     newNotificationManager(cfg, logger),
		audit:        auditStore{db: pool},
		pinger:       pool,
		poolStats:    func() *db.PoolStats { return db.GetPoolStats(pool) },
		gatherer:     reg,
	}
	e := newRouter(cfg, key, b, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// signingKey returns the configured JWT key. Development may run without
// one; a random key is generated, so tokens do not survive a restart.
func signingKey(cfg *config.Config, logger zerolog.Logger) ([]byte, error) {
	if cfg.JWTSigningKey != "" {
		return []byte(cfg.JWTSigningKey), nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	logger.Warn().Msg("JWT_SIGNING_KEY not set; using a random key for this process")
	return key, nil
}

type otpBackend interface {
	otp.Store
	otp.Sweeper
}

func newOTPStore(cfg *config.Config, pool db.Querier) (otp.Store, otp.Sweeper) {
	opts := otp.Options{Length: cfg.OTPLength, TTL: cfg.OTPTTL, MaxAttempts: cfg.OTPMaxAttempts}
	var s otpBackend
	if cfg.OTPStore == "postgres" {
		s = otp.NewPGStore(pool, opts)
	} else {
		s = otp.NewMemoryStore(opts)
	}
	return s, s
}

func newNotificationManager(cfg *config.Config, logger zerolog.Logger) *notification.Manager {
	tpl := notification.NewTemplateEngine()
	switch cfg.Notifier {
	case "email":
		smtp := notification.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		return notification.NewManager(notification.TypeEmail, smtp, nil, tpl, logger)
	case "sms":
		sms := notification.NewHTTPSMSSender(cfg.SMSAPIKey, cfg.SMSBaseURL, cfg.SMSSender)
		return notification.NewManager(notification.TypeSMS, nil, sms, tpl, logger)
	default:
		logger.Warn().Msg("NOTIFIER=log: codes and notices are written to the log, not delivered")
		ls := notification.NewLogSender(logger)
		return notification.NewManager(notification.TypeEmail, ls, ls, tpl, logger)
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	if cfg.BlobBackend != "s3" {
		return blobstore.NewInMemoryBlobStore(), nil
	}
	client, err := blobstore.NewS3Client(ctx, cfg.S3Region, cfg.S3Endpoint)
	if err != nil {
		return nil, err
	}
	return blobstore.NewS3Store(client, cfg.S3Bucket, s3KeyPrefix), nil
}

const s3KeyPrefix = "documents/"

// blobURLPrefix is what upload responses put in front of a blob ID. With a
// public S3 base URL the link goes straight to the object; otherwise it is
// the authenticated download route.
func blobURLPrefix(cfg *config.Config) string {
	if cfg.BlobBackend == "s3" && cfg.S3PublicBaseURL != "" {
		return strings.TrimRight(cfg.S3PublicBaseURL, "/") + "/" + s3KeyPrefix
	}
	return ""
}

// newRouter builds the echo instance with every route and middleware.
func newRouter(cfg *config.Config, key []byte, b backends, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: key,
		Skipper:    auth.AuthSkipper,
	}))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	e.Use(middleware.Audit(logger, b.audit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(b.pinger, b.poolStats))
	e.GET("/metrics", metrics.Handler(b.gatherer))

	accounts := identity.NewService(b.users, auth.NewHasher(cfg.BcryptCost), auth.NewTokenIssuer(key, cfg.JWTIssuer, cfg.JWTTTL), logger)
	identityHandler := identity.NewHandler(accounts)
	identityHandler.RegisterPublicRoutes(e.Group("/auth"))

	api := e.Group("/api/v1")
	identityHandler.RegisterRoutes(api)

	hospital.NewHandler(hospital.NewService(b.hospitals, logger)).RegisterRoutes(api)

	appointments := scheduling.NewService(b.appointments, schedulingPeople{accounts: accounts}, appointmentNotifier{manager: b.notifier}, logger)
	scheduling.NewHandler(appointments).RegisterRoutes(api)

	gate := records.NewGate(
		b.codes,
		recordNotifier{sender: notification.NewOTPNotifier(b.notifier, cfg.OTPTTL)},
		recordDirectory{accounts: accounts},
		b.records,
		logger,
	)
	records.NewHandler(gate).RegisterRoutes(api, otpRequestLimit())

	blobstore.NewBlobHandler(b.blobs, blobURLPrefix(cfg), logger).RegisterRoutes(api)

	return e
}

// otpRequestLimit allows a doctor five codes per minute for one patient,
// with a burst of three, on top of the global per-user limit.
func otpRequestLimit() echo.MiddlewareFunc {
	return middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: 5.0 / 60.0,
		BurstSize:         3,
		KeyFunc: func(c echo.Context) string {
			return "otp:" + c.Param("doctorId") + ":" + c.Param("patientId")
		},
	})
}
