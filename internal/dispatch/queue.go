package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEmpty is returned by Receive when no job is eligible.
var ErrEmpty = errors.New("dispatch: queue empty")

// Queue is the durable job queue backed by the dispatch_jobs table.
// Workers lease rows with SELECT ... FOR UPDATE SKIP LOCKED; a lease
// expires if the worker dies mid-send, and ReapExpired returns the job to
// the queue for redelivery (at-least-once).
//
// Note: the sqlite driver drops the locking clause (no row-level locks
// there); correctness then rests on transaction serialization, with
// lower claim concurrency.
type Queue struct {
	db    *gorm.DB
	lease time.Duration
}

// NewQueue creates a Queue with the given lease duration.
func NewQueue(db *gorm.DB, lease time.Duration) *Queue {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Queue{db: db, lease: lease}
}

// Submit enqueues a job, optionally delayed. The row insert is the
// durability point: once Submit returns, the send survives restarts.
func (q *Queue) Submit(job *models.DispatchJob, delay time.Duration) error {
	job.State = models.JobQueued
	job.NextAttemptAt = time.Now().Add(delay)
	if err := q.db.Create(job).Error; err != nil {
		return fmt.Errorf("dispatch: submit job: %w", err)
	}
	return nil
}

// Receive claims the oldest eligible job, marks it leased, and bumps its
// attempt counter. Lease exclusivity guarantees a job is never executed by
// two workers at once, which keeps per-job retries strictly sequential.
func (q *Queue) Receive() (*models.DispatchJob, error) {
	var claimed models.DispatchJob

	err := q.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Where("state = ? AND next_attempt_at <= ?", models.JobQueued, now).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("next_attempt_at ASC").
			Limit(1).
			Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("dispatch: find job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrEmpty
		}

		expires := now.Add(q.lease)
		if err := tx.Model(&models.DispatchJob{}).Where("id = ?", claimed.ID).
			Updates(map[string]interface{}{
				"state":            models.JobLeased,
				"attempts":         gorm.Expr("attempts + 1"),
				"lease_expires_at": expires,
			}).Error; err != nil {
			return fmt.Errorf("dispatch: lease job %s: %w", claimed.ID, err)
		}
		claimed.State = models.JobLeased
		claimed.Attempts++
		claimed.LeaseExpiresAt = &expires
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// Ack settles a job in a terminal state (done or failed).
func (q *Queue) Ack(job *models.DispatchJob, terminal string) error {
	err := q.db.Model(&models.DispatchJob{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"state":            terminal,
			"lease_expires_at": nil,
			"last_error":       job.LastError,
		}).Error
	if err != nil {
		return fmt.Errorf("dispatch: ack job %s: %w", job.ID, err)
	}
	return nil
}

// Nack returns a leased job to the queue for a later attempt. The
// reschedule is durable before the lease is released, so a crash after
// Nack cannot lose the job.
func (q *Queue) Nack(job *models.DispatchJob, delay time.Duration, lastError string) error {
	err := q.db.Model(&models.DispatchJob{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"state":            models.JobQueued,
			"next_attempt_at":  time.Now().Add(delay),
			"lease_expires_at": nil,
			"last_error":       lastError,
		}).Error
	if err != nil {
		return fmt.Errorf("dispatch: nack job %s: %w", job.ID, err)
	}
	return nil
}

// ReapExpired requeues leased jobs whose lease has lapsed, making work
// lost to a crashed worker visible again. Returns how many were requeued.
func (q *Queue) ReapExpired() (int, error) {
	result := q.db.Model(&models.DispatchJob{}).
		Where("state = ? AND lease_expires_at < ?", models.JobLeased, time.Now()).
		Updates(map[string]interface{}{
			"state":            models.JobQueued,
			"next_attempt_at":  time.Now(),
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("dispatch: reap leases: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// Depth reports how many jobs are waiting.
func (q *Queue) Depth() (int64, error) {
	var n int64
	if err := q.db.Model(&models.DispatchJob{}).
		Where("state = ?", models.JobQueued).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("dispatch: queue depth: %w", err)
	}
	return n, nil
}
