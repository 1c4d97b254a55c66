//go:build integration

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore(t *testing.T) {
	client := setupRedis(t)
	store := NewRedisStore(client, "test:cancel")
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	jobs := []Job{
		{OrderID: "o1", OrderCode: "ORD-1", FireAt: now.Add(-time.Minute)},
		{OrderID: "o2", OrderCode: "ORD-2", FireAt: now},
		{OrderID: "o3", OrderCode: "ORD-3", FireAt: now.Add(time.Hour)},
	}
	for _, job := range jobs {
		if err := store.Put(ctx, job); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	if err := store.Put(ctx, Job{OrderID: "o2", OrderCode: "ORD-2", FireAt: now.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("Put() replace error: %v", err)
	}
	if err := store.Remove(ctx, "o3"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	claimed, err := store.ClaimDue(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue() error: %v", err)
	}
	if len(claimed) != 1 || claimed[0].OrderID != "o1" || claimed[0].OrderCode != "ORD-1" {
		t.Fatalf("claimed %+v, want only o1", claimed)
	}

	again, err := store.ClaimDue(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue() error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("claimed o1 twice within the lease: %+v", again)
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if pending != 2 {
		t.Errorf("Pending() = %d, want 2 with o1 still leased", pending)
	}

	if err := store.Ack(ctx, claimed[0]); err != nil {
		t.Fatalf("Ack() error: %v", err)
	}
	if pending, _ := store.Pending(ctx); pending != 1 {
		t.Errorf("Pending() after ack = %d, want 1", pending)
	}
}

func TestRedisStoreLeaseExpiry(t *testing.T) {
	client := setupRedis(t)
	store := NewRedisStore(client, "test:lease")
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Put(ctx, Job{OrderID: "o1", OrderCode: "ORD-1", FireAt: now}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if _, err := store.ClaimDue(ctx, now, 10, time.Minute); err != nil {
		t.Fatalf("ClaimDue() error: %v", err)
	}

	reclaimed, err := store.ClaimDue(ctx, now.Add(time.Minute), 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue() after lease error: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].OrderID != "o1" {
		t.Fatalf("reclaimed %+v, want o1", reclaimed)
	}

	next := reclaimed[0]
	next.Attempt = 1
	next.FireAt = now.Add(time.Hour)
	if err := store.Retry(ctx, next); err != nil {
		t.Fatalf("Retry() error: %v", err)
	}

	// the claim was replaced by the retry, so acking it must not remove the job
	if err := store.Ack(ctx, reclaimed[0]); err != nil {
		t.Fatalf("Ack() error: %v", err)
	}

	due, err := store.ClaimDue(ctx, now.Add(time.Hour), 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue() error: %v", err)
	}
	if len(due) != 1 || due[0].Attempt != 1 {
		t.Fatalf("claimed %+v, want o1 at attempt 1", due)
	}
}

func TestRedisStoreConcurrentClaim(t *testing.T) {
	client := setupRedis(t)
	store := NewRedisStore(client, "test:concurrent")
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 50; i++ {
		job := Job{OrderID: "order-" + string(rune('A'+i%26)) + string(rune('a'+i/26)), FireAt: now.Add(-time.Second)}
		if err := store.Put(ctx, job); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	results := make(chan int, 5)
	for w := 0; w < 5; w++ {
		go func() {
			total := 0
			for {
				jobs, err := store.ClaimDue(ctx, now, 7, time.Minute)
				if err != nil || len(jobs) == 0 {
					results <- total
					return
				}
				total += len(jobs)
			}
		}()
	}

	sum := 0
	for w := 0; w < 5; w++ {
		sum += <-results
	}
	if sum != 50 {
		t.Errorf("claimed %d jobs in total, want exactly 50", sum)
	}
}
