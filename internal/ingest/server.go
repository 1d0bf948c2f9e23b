package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// maxBodyBytes bounds a webhook delivery. The provider batches entries but
// stays far below this.
const maxBodyBytes = 1 << 20

// StartOpts holds configuration for the webhook server.
type StartOpts struct {
	DB          *gorm.DB
	Handler     *Handler
	AppSecret   string // HMAC key for X-Hub-Signature-256; empty disables verification
	Port        int
	WebhookPath string
	Out         io.Writer
}

// Start launches the webhook HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("ingest: db is required")
	}
	if opts.Handler == nil {
		return fmt.Errorf("ingest: handler is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/webhooks/provider"
	}

	router := NewRouter(opts)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Webhook listener on %s%s\n", addr, opts.WebhookPath)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

// NewRouter builds the webhook gin router.
func NewRouter(opts StartOpts) *gin.Engine {
	if opts.AppSecret == "" {
		log.Printf("ingest: app secret is empty; webhook signature verification is DISABLED")
		if opts.Out != nil {
			fmt.Fprintln(opts.Out, "WARNING: app secret is empty; accepting unsigned webhook deliveries")
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(opts.WebhookPath, func(c *gin.Context) {
		handleVerification(c, opts.DB)
	})
	router.POST(opts.WebhookPath, func(c *gin.Context) {
		handleDelivery(c, opts)
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// handleVerification answers the provider's subscription handshake: echo
// the challenge when the verify token matches an active channel.
func handleVerification(c *gin.Context, db *gorm.DB) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")
	if mode != "subscribe" || token == "" {
		c.String(http.StatusForbidden, "forbidden")
		return
	}

	var n int64
	if err := db.Model(&models.Channel{}).Where("verify_token = ? AND active = ?", token, true).Count(&n).Error; err != nil {
		c.String(http.StatusInternalServerError, "error")
		return
	}
	if n == 0 {
		c.String(http.StatusForbidden, "forbidden")
		return
	}
	c.String(http.StatusOK, challenge)
}

// handleDelivery authenticates, parses and processes one webhook POST.
// Anything short of storage unavailability answers 200: the provider
// retries non-2xx deliveries, and a retry only helps when the store is
// back.
func handleDelivery(c *gin.Context, opts StartOpts) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}
	if !VerifySignature(opts.AppSecret, body, c.GetHeader("X-Hub-Signature-256")) {
		c.String(http.StatusUnauthorized, "invalid signature")
		return
	}

	ev, err := ParseEvent(body)
	if err != nil {
		log.Printf("ingest: %v", err)
		c.String(http.StatusOK, "ignored")
		return
	}
	if err := opts.Handler.HandleEvent(ev); err != nil {
		if errors.Is(err, store.ErrStoreUnavailable) {
			c.String(http.StatusInternalServerError, "store unavailable")
			return
		}
		log.Printf("ingest: %v", err)
	}
	c.String(http.StatusOK, "ok")
}
