package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parleyhq/parley/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Channel{},
		&models.Customer{},
		&models.Conversation{},
		&models.Message{},
		&models.DispatchJob{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newJob(kind string) *models.DispatchJob {
	return &models.DispatchJob{
		ID:             uuid.NewString(),
		MessageID:      1,
		ConversationID: 1,
		ChannelID:      1,
		Kind:           kind,
		Payload:        `{"to":"34600111222","text":"hi"}`,
	}
}

func TestQueueSubmitReceive(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, time.Minute)

	job := newJob(models.KindText)
	if err := q.Submit(job, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := q.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got.ID != job.ID {
		t.Errorf("received %s, want %s", got.ID, job.ID)
	}
	if got.State != models.JobLeased {
		t.Errorf("state = %q, want leased", got.State)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (counted at lease time)", got.Attempts)
	}
	if got.LeaseExpiresAt == nil {
		t.Error("lease expiry not set")
	}

	// A leased job is invisible to other receivers.
	if _, err := q.Receive(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("second receive = %v, want ErrEmpty", err)
	}
}

func TestQueueReceiveEmpty(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, time.Minute)
	if _, err := q.Receive(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestQueueDelayedJobInvisible(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, time.Minute)

	if err := q.Submit(newJob(models.KindText), time.Hour); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := q.Receive(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("delayed job was claimable: %v", err)
	}
}

func TestQueueOldestFirst(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, time.Minute)

	older := newJob(models.KindText)
	newer := newJob(models.KindText)
	if err := q.Submit(older, -2*time.Second); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := q.Submit(newer, -time.Second); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := q.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got.ID != older.ID {
		t.Error("queue did not serve the oldest eligible job first")
	}
}

func TestQueueAckTerminal(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, time.Minute)

	if err := q.Submit(newJob(models.KindText), 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	job, _ := q.Receive()
	job.LastError = "boom"
	if err := q.Ack(job, models.JobFailed); err != nil {
		t.Fatalf("ack: %v", err)
	}

	var got models.DispatchJob
	db.First(&got, "id = ?", job.ID)
	if got.State != models.JobFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.LeaseExpiresAt != nil {
		t.Error("lease not cleared")
	}
	if got.LastError != "boom" {
		t.Errorf("last error = %q", got.LastError)
	}

	if _, err := q.Receive(); !errors.Is(err, ErrEmpty) {
		t.Fatal("terminal job was claimable")
	}
}

func TestQueueNackReschedules(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, time.Minute)

	if err := q.Submit(newJob(models.KindText), 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	job, _ := q.Receive()
	if err := q.Nack(job, 0, "transient"); err != nil {
		t.Fatalf("nack: %v", err)
	}

	again, err := q.Receive()
	if err != nil {
		t.Fatalf("receive after nack: %v", err)
	}
	if again.ID != job.ID {
		t.Error("nacked job not requeued")
	}
	if again.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", again.Attempts)
	}
	if again.LastError != "transient" {
		t.Errorf("last error = %q", again.LastError)
	}
}

func TestQueueReapExpired(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, 10*time.Millisecond)

	if err := q.Submit(newJob(models.KindText), 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	job, _ := q.Receive()

	time.Sleep(25 * time.Millisecond)
	n, err := q.ReapExpired()
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped = %d, want 1", n)
	}

	again, err := q.Receive()
	if err != nil {
		t.Fatalf("receive after reap: %v", err)
	}
	if again.ID != job.ID {
		t.Error("expired job not redelivered")
	}
	if again.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (crash counts as an attempt)", again.Attempts)
	}
}

func TestQueueReapLeavesFreshLeases(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, time.Hour)

	if err := q.Submit(newJob(models.KindText), 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	q.Receive()

	n, err := q.ReapExpired()
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 0 {
		t.Errorf("reaped = %d, want 0", n)
	}
}

func TestQueueDepth(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, time.Minute)

	for i := 0; i < 3; i++ {
		if err := q.Submit(newJob(models.KindText), 0); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	q.Receive()

	depth, err := q.Depth()
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 2 {
		t.Errorf("depth = %d, want 2", depth)
	}
}
