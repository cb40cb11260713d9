package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/originhash-backend/api/controllers"
	"github.com/angelmondragon/originhash-backend/api/middleware"
	"github.com/angelmondragon/originhash-backend/internal/auth"
	"github.com/angelmondragon/originhash-backend/internal/certificates"
	"github.com/angelmondragon/originhash-backend/internal/verification"
	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/db"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/originhash-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *pkgredis.Client,
	gatherer prometheus.Gatherer,
	authService auth.Service,
	registerService auth.RegisterService,
	certificateService certificates.Service,
	verificationService verification.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)
	paymentPolicy := middleware.NewRateLimitPolicy(
		"payment",
		"uniqueId",
		cfg.PaymentLimit.Window,
		cfg.PaymentLimit.IPLimit,
		cfg.PaymentLimit.CertificateLimit,
	)

	ready := map[string]controllers.Pinger{}
	if dbP != nil {
		ready["database"] = dbP
	}
	if redisClient != nil {
		ready["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, ready, logg))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	limiter := rateLimitStore(redisClient)
	replays := idempotencyStore(redisClient)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.AuthRateLimit(loginPolicy, limiter, logg)).Post("/login", controllers.AuthLogin(authService, logg))
			r.With(middleware.AuthRateLimit(registerPolicy, limiter, logg)).Post("/register", controllers.AuthRegister(registerService, authService, logg))
			if !cfg.App.IsProd() {
				r.With(middleware.AuthRateLimit(registerPolicy, limiter, logg)).Post("/register/admin", controllers.AuthRegisterAdmin(registerService, authService, logg))
			}
		})

		r.Get("/cert/blockchain-status/{uniqueId}", controllers.BlockchainStatus(verificationService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(replays, logg))

			r.Route("/cert", func(r chi.Router) {
				r.Post("/verify", controllers.VerifyCertificate(verificationService, logg))
				r.With(middleware.RateLimit(paymentPolicy, limiter, logg)).Post("/verify/payment", controllers.ConfirmPayment(verificationService, logg))
			})

			r.Route("/certificates", func(r chi.Router) {
				r.Get("/mine", controllers.ListMyCertificates(certificateService, logg))
				r.Get("/{uniqueId}/artifact", controllers.DownloadCertificateArtifact(certificateService, logg))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireIssuer(logg))
					r.Get("/issued", controllers.ListIssuedCertificates(certificateService, logg))
					r.Get("/issued/verified", controllers.ListIssuedVerifiedCertificates(certificateService, logg))
					r.Get("/by-content/{cid}", controllers.GetCertificateByContentID(certificateService, logg))
					r.Get("/{uniqueId}", controllers.GetCertificate(certificateService, logg))
				})

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(logg, enums.UserRoleSuperAdmin))
					r.Get("/", controllers.ListCertificates(certificateService, logg))
					r.Get("/verified", controllers.ListVerifiedCertificates(certificateService, logg))
				})
			})

			r.Route("/certs", func(r chi.Router) {
				r.Use(middleware.RequireIssuer(logg))
				r.Post("/preview", controllers.PreviewCertificate(certificateService, logg))
				r.Post("/issue", controllers.IssueCertificate(certificateService, logg))
			})
		})
	})

	return r
}
