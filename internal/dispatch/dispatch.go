// Package dispatch turns outbound decisions into durable, retried,
// rate-aware provider sends with status tracking.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/parleyhq/parley/internal/alert"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/scenario"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/vault"
	"gorm.io/gorm"
)

// Payload is the rendered outbound content carried by a DispatchJob.
type Payload struct {
	To        string            `json:"to"`
	Text      string            `json:"text,omitempty"`
	MediaPath string            `json:"media_path,omitempty"`
	MediaType string            `json:"media_type,omitempty"`
	Caption   string            `json:"caption,omitempty"`
	Template  string            `json:"template,omitempty"`
	Language  string            `json:"language,omitempty"`
	Buttons   []provider.Button `json:"buttons,omitempty"`
}

// Opts holds parameters for creating a Dispatcher.
type Opts struct {
	DB          *gorm.DB
	Queue       *Queue
	Vault       *vault.Vault
	APIURL      string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     Backoff
	Alerts      alert.Notifier // optional
	Metrics     *metrics.Metrics
	Out         io.Writer // defaults to io.Discard
}

// Dispatcher owns the DispatchJob lifecycle and is the only writer of
// outbound Message status fields past pending.
type Dispatcher struct {
	db          *gorm.DB
	queue       *Queue
	vault       *vault.Vault
	apiURL      string
	timeout     time.Duration
	maxAttempts int
	backoff     Backoff
	alerts      alert.Notifier
	metrics     *metrics.Metrics
	out         io.Writer
}

// New creates a Dispatcher.
func New(opts Opts) (*Dispatcher, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dispatch: db is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("dispatch: queue is required")
	}
	if opts.Vault == nil {
		return nil, fmt.Errorf("dispatch: vault is required")
	}
	if opts.APIURL == "" {
		return nil, fmt.Errorf("dispatch: api url is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff.Base = time.Minute
	}
	if opts.Backoff.Max <= 0 {
		opts.Backoff.Max = 5 * time.Minute
	}
	if opts.Alerts == nil {
		opts.Alerts = alert.Nop{}
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Dispatcher{
		db:          opts.DB,
		queue:       opts.Queue,
		vault:       opts.Vault,
		apiURL:      opts.APIURL,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		alerts:      opts.Alerts,
		metrics:     opts.Metrics,
		out:         opts.Out,
	}, nil
}

// Enqueue records a pending Message and submits a durable job for it.
// It never blocks on the provider; the job insert is the durability point.
func (d *Dispatcher) Enqueue(conversationID uint, act scenario.Action, byBot bool) (*models.DispatchJob, error) {
	var conv models.Conversation
	if err := d.db.Preload("Customer").First(&conv, conversationID).Error; err != nil {
		return nil, fmt.Errorf("dispatch: conversation %d: %w", conversationID, err)
	}

	var kind, content, caption string
	payload := Payload{To: conv.Customer.Handle}
	switch a := act.(type) {
	case scenario.SendText:
		kind, content = models.KindText, a.Text
		payload.Text = a.Text
	case scenario.SendMedia:
		kind, caption = models.KindMedia, a.Caption
		content = a.Path
		payload.MediaPath, payload.MediaType, payload.Caption = a.Path, a.MediaType, a.Caption
	case scenario.SendTemplate:
		kind, content = models.KindTemplate, a.Name
		payload.Template, payload.Language = a.Name, a.Language
	case scenario.SendButtons:
		kind, content = models.KindInteractive, a.Text
		payload.Text = a.Text
		for _, b := range a.Buttons {
			payload.Buttons = append(payload.Buttons, provider.Button{ID: b.ID, Title: b.Label})
		}
	default:
		return nil, fmt.Errorf("dispatch: action %T is not a send action", act)
	}

	msg, err := store.RecordOutboundPending(d.db, conversationID, kind, content, caption, byBot)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal payload: %w", err)
	}
	job := &models.DispatchJob{
		ID:             uuid.NewString(),
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		ChannelID:      conv.ChannelID,
		Kind:           kind,
		Payload:        string(data),
	}
	if err := d.queue.Submit(job, 0); err != nil {
		// The pending Message stays visible with its last error for
		// operator inspection.
		if serr := store.MarkStatus(d.db, msg.ID, models.StatusFailed, nil); serr != nil {
			log.Printf("dispatch: mark %d failed after submit error: %v", msg.ID, serr)
		}
		return nil, err
	}
	return job, nil
}

// Execute performs one send attempt for a leased job and settles it:
// success or a fatal failure acknowledges the job terminally, a retryable
// failure reschedules it durably. Only infrastructure errors (store
// unreachable) propagate to the worker loop.
func (d *Dispatcher) Execute(ctx context.Context, job *models.DispatchJob) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return d.settleFatal(ctx, job, payload, fmt.Errorf("dispatch: corrupt payload: %w", err))
	}

	var channel models.Channel
	if err := d.db.First(&channel, job.ChannelID).Error; err != nil {
		return fmt.Errorf("dispatch: channel %d: %w", job.ChannelID, err)
	}
	if !channel.Active || channel.Status == models.ChannelRevoked {
		return d.settleFatal(ctx, job, payload, fmt.Errorf("dispatch: channel %s is %s", channel.PhoneNumber, channel.Status))
	}

	token, err := d.vault.Decrypt(channel.EncryptedCredential)
	if err != nil {
		if errors.Is(err, vault.ErrKeyMissing) || errors.Is(err, vault.ErrCorruptCiphertext) {
			d.degradeChannel(ctx, &channel, err)
		}
		return d.settleFatal(ctx, job, payload, err)
	}

	client := provider.New(d.apiURL, channel.ProviderNumberID, token, d.timeout)
	start := time.Now()
	providerID, sendErr := d.send(ctx, client, job.Kind, payload)
	if d.metrics != nil {
		d.metrics.SendDuration.Observe(time.Since(start).Seconds())
	}

	if sendErr == nil {
		return d.settleSent(job, payload, providerID)
	}
	if provider.IsRetryable(sendErr) && job.Attempts < d.maxAttempts {
		return d.reschedule(job, sendErr)
	}
	return d.settleFatal(ctx, job, payload, sendErr)
}

// send performs the provider call for one job kind. Media uploads happen
// per attempt; provider media ids are not reusable across uploads.
func (d *Dispatcher) send(ctx context.Context, client *provider.Client, kind string, p Payload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout())
	defer cancel()

	switch kind {
	case models.KindText:
		return client.SendText(ctx, p.To, p.Text)
	case models.KindTemplate:
		return client.SendTemplate(ctx, p.To, p.Template, p.Language)
	case models.KindInteractive:
		return client.SendButtons(ctx, p.To, p.Text, p.Buttons)
	case models.KindMedia:
		mediaID, err := client.UploadMedia(ctx, p.MediaPath, p.MediaType)
		if err != nil {
			return "", err
		}
		return client.SendMedia(ctx, p.To, mediaKind(p.MediaType), mediaID, p.Caption)
	default:
		return "", fmt.Errorf("dispatch: unknown job kind %q", kind)
	}
}

func (d *Dispatcher) callTimeout() time.Duration {
	if d.timeout > 0 {
		// Leave room for the upload+send pair on media jobs.
		return 2 * d.timeout
	}
	return 2 * provider.DefaultTimeout
}

func (d *Dispatcher) settleSent(job *models.DispatchJob, p Payload, providerID string) error {
	if err := store.RecordAttempt(d.db, job.MessageID, ""); err != nil {
		log.Printf("dispatch: record attempt for %d: %v", job.MessageID, err)
	}
	if err := store.MarkStatus(d.db, job.MessageID, models.StatusSent, &providerID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			log.Printf("dispatch: message %d already past sent", job.MessageID)
		} else {
			return err
		}
	}
	if err := d.queue.Ack(job, models.JobDone); err != nil {
		return err
	}
	d.cleanupMedia(p)
	d.count(job.Kind, "sent")
	fmt.Fprintf(d.out, "dispatch: job %s sent (provider id %s, attempt %d)\n", job.ID, providerID, job.Attempts)
	return nil
}

func (d *Dispatcher) reschedule(job *models.DispatchJob, sendErr error) error {
	if err := store.RecordAttempt(d.db, job.MessageID, sendErr.Error()); err != nil {
		log.Printf("dispatch: record attempt for %d: %v", job.MessageID, err)
	}
	delay := d.backoff.Delay(job.Attempts)
	if err := d.queue.Nack(job, delay, sendErr.Error()); err != nil {
		return err
	}
	d.count(job.Kind, "retried")
	fmt.Fprintf(d.out, "dispatch: job %s attempt %d failed, retry in %s: %v\n", job.ID, job.Attempts, delay, sendErr)
	return nil
}

func (d *Dispatcher) settleFatal(ctx context.Context, job *models.DispatchJob, p Payload, cause error) error {
	if err := store.RecordAttempt(d.db, job.MessageID, cause.Error()); err != nil {
		log.Printf("dispatch: record attempt for %d: %v", job.MessageID, err)
	}
	if err := store.MarkStatus(d.db, job.MessageID, models.StatusFailed, nil); err != nil &&
		!errors.Is(err, store.ErrInvalidTransition) {
		return err
	}
	job.LastError = cause.Error()
	if err := d.queue.Ack(job, models.JobFailed); err != nil {
		return err
	}
	d.cleanupMedia(p)
	d.count(job.Kind, "failed")
	if job.Attempts >= d.maxAttempts {
		d.notify(ctx, alert.Event{
			Title:    "Delivery retries exhausted",
			Body:     fmt.Sprintf("job %s (message %d): %v", job.ID, job.MessageID, cause),
			Severity: alert.SeverityError,
		})
	}
	fmt.Fprintf(d.out, "dispatch: job %s failed terminally: %v\n", job.ID, cause)
	return nil
}

// degradeChannel marks a channel whose credential cannot be used. The
// worker pool keeps running; an operator has to rotate the credential.
func (d *Dispatcher) degradeChannel(ctx context.Context, channel *models.Channel, cause error) {
	err := d.db.Model(&models.Channel{}).Where("id = ?", channel.ID).
		Update("status", models.ChannelRevoked).Error
	if err != nil {
		log.Printf("dispatch: degrade channel %d: %v", channel.ID, err)
	}
	d.notify(ctx, alert.Event{
		Title:    "Channel credential unusable",
		Body:     fmt.Sprintf("channel %s (%s): %v", channel.PhoneNumber, channel.ProviderNumberID, cause),
		Severity: alert.SeverityError,
	})
}

// cleanupMedia removes a locally staged media file once the job is
// terminal. Guaranteed on both success and exhausted-failure paths.
func (d *Dispatcher) cleanupMedia(p Payload) {
	if p.MediaPath == "" {
		return
	}
	if err := os.Remove(p.MediaPath); err != nil && !os.IsNotExist(err) {
		log.Printf("dispatch: remove staged media %s: %v", p.MediaPath, err)
	}
}

func (d *Dispatcher) notify(ctx context.Context, ev alert.Event) {
	if err := d.alerts.Notify(ctx, ev); err != nil {
		log.Printf("dispatch: alert delivery: %v", err)
	}
}

func (d *Dispatcher) count(kind, outcome string) {
	if d.metrics != nil {
		d.metrics.SendsTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// mediaKind maps a MIME type to the provider's media payload kind.
func mediaKind(mimeType string) string {
	switch {
	case len(mimeType) >= 5 && mimeType[:5] == "image":
		return "image"
	case len(mimeType) >= 5 && mimeType[:5] == "video":
		return "video"
	case len(mimeType) >= 5 && mimeType[:5] == "audio":
		return "audio"
	default:
		return "document"
	}
}
