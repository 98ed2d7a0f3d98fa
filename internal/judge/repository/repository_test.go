package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"fujudge/internal/common/cache"
	"fujudge/internal/common/mq"
	"fujudge/internal/judge/model"
	"fujudge/internal/judge/sandbox/result"
	appErr "fujudge/pkg/errors"
)

func newRepo(t *testing.T, ttl time.Duration) (*StatusRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache(mr.Addr())
	if err != nil {
		t.Fatalf("new redis cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return NewStatusRepository(c, ttl), mr
}

func sampleSummary() result.Summary {
	s := result.Summary{
		RunID:      "run-1",
		State:      result.StateFinished,
		ReceivedAt: 100,
		FinishedAt: 101,
		Tests: []result.Report{
			{ID: "1", Verdict: result.VerdictAccepted, TimeSec: 0.1, MemoryBytes: 1 << 20, Score: 40},
			{ID: "2", Verdict: result.VerdictWrongAnswer, TimeSec: 0.2, MemoryBytes: 2 << 20, Score: 60},
		},
	}
	s.Aggregate()
	return s
}

func TestStatusRepositoryRoundTrip(t *testing.T) {
	repo, mr := newRepo(t, time.Hour)
	ctx := context.Background()

	want := sampleSummary()
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !mr.Exists("judge:run:run-1") {
		t.Fatalf("status stored under unexpected key: %v", mr.Keys())
	}
	if ttl := mr.TTL("judge:run:run-1"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	got, err := repo.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Verdict != result.VerdictWrongAnswer || got.Score != 40 || len(got.Tests) != 2 || got.Tests[1].MemoryBytes != 2<<20 {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestStatusRepositoryErrors(t *testing.T) {
	repo, mr := newRepo(t, time.Minute)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "absent"); !appErr.Is(err, appErr.RunNotFound) {
		t.Fatalf("expected RunNotFound, got %v", err)
	}
	if _, err := repo.Get(ctx, ""); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
	if err := repo.Save(ctx, result.Summary{}); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
	if err := mr.Set("judge:run:broken", "{not json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := repo.Get(ctx, "broken"); !appErr.Is(err, appErr.CacheError) {
		t.Fatalf("expected CacheError, got %v", err)
	}

	var nilRepo StatusRepository
	if err := nilRepo.Save(ctx, sampleSummary()); !appErr.Is(err, appErr.CacheError) {
		t.Fatalf("expected CacheError without a cache, got %v", err)
	}
}

type recordingProducer struct {
	topic string
	msgs  []*mq.Message
	err   error
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.msgs = append(p.msgs, message)
	return nil
}

func (p *recordingProducer) Ping(ctx context.Context) error { return p.err }

func (p *recordingProducer) Close() error { return nil }

func TestPublishFinalStatus(t *testing.T) {
	producer := &recordingProducer{}
	pub := NewMQStatusEventPublisher(producer, "judge.status")
	if err := pub.PublishFinalStatus(context.Background(), sampleSummary()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if producer.topic != "judge.status" || len(producer.msgs) != 1 {
		t.Fatalf("unexpected publish %q %d", producer.topic, len(producer.msgs))
	}
	msg := producer.msgs[0]
	if msg.ID != "run-1" {
		t.Fatalf("message must be keyed by run id, got %q", msg.ID)
	}
	if v, _ := msg.GetHeader("verdict"); v != "WA" {
		t.Fatalf("unexpected verdict header %q", v)
	}
	var event model.StatusEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		t.Fatalf("decode event failed: %v", err)
	}
	if event.Type != model.StatusEventFinal || event.Status.RunID != "run-1" || event.CreatedAt == 0 {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestPublishFinalStatusErrors(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		pub  *MQStatusEventPublisher
		sum  result.Summary
		code appErr.ErrorCode
	}{
		{"nil publisher", nil, sampleSummary(), appErr.ServiceUnavailable},
		{"no topic", NewMQStatusEventPublisher(&recordingProducer{}, ""), sampleSummary(), appErr.InvalidParams},
		{"no run id", NewMQStatusEventPublisher(&recordingProducer{}, "t"), result.Summary{}, appErr.ValidationFailed},
		{"broker down", NewMQStatusEventPublisher(&recordingProducer{err: errors.New("dial failed")}, "t"), sampleSummary(), appErr.EventPublishFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.pub.PublishFinalStatus(ctx, tc.sum); !appErr.Is(err, tc.code) {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
		})
	}
}
