package cron

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/internal/oplog"
	"github.com/guildworks/guildpass-backend/pkg/config"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	"github.com/guildworks/guildpass-backend/pkg/logger"
	"github.com/guildworks/guildpass-backend/pkg/outbox"
)

type fakeSweepRepo struct {
	rows    map[string]*models.Subscription
	saveErr map[string]error
}

func newFakeSweepRepo() *fakeSweepRepo {
	return &fakeSweepRepo{
		rows:    make(map[string]*models.Subscription),
		saveErr: make(map[string]error),
	}
}

func (f *fakeSweepRepo) FindDueForSweep(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error) {
	var due []models.Subscription
	for _, row := range f.rows {
		if !row.Active || !row.Tier.IsPaid() || row.ExpiresAt == nil {
			continue
		}
		if !row.ExpiresAt.After(cutoff) {
			due = append(due, *row)
		}
	}
	return due, nil
}

func (f *fakeSweepRepo) SaveTx(tx *gorm.DB, sub *models.Subscription) error {
	if err := f.saveErr[sub.GuildID]; err != nil {
		return err
	}
	copied := *sub
	f.rows[sub.GuildID] = &copied
	return nil
}

type sweepTxRunner struct{}

func (sweepTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeSweepOplog struct {
	entries []oplog.Entry
}

func (f *fakeSweepOplog) Append(ctx context.Context, tx *gorm.DB, entry oplog.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeSweepOutbox struct {
	emitted []outbox.DomainEvent
	// seen mirrors the partial unique index on unpublished events.
	seen map[string]bool
}

func newFakeSweepOutbox() *fakeSweepOutbox {
	return &fakeSweepOutbox{seen: make(map[string]bool)}
}

func (f *fakeSweepOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.emitted = append(f.emitted, event)
	return nil
}

func (f *fakeSweepOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	key := string(event.EventType) + "|" + event.AggregateID
	if f.seen[key] {
		return nil
	}
	f.seen[key] = true
	f.emitted = append(f.emitted, event)
	return nil
}

func (f *fakeSweepOutbox) countByType(eventType enums.OutboxEventType) int {
	count := 0
	for _, event := range f.emitted {
		if event.EventType == eventType {
			count++
		}
	}
	return count
}

type fakeSweepRoles struct {
	calls []string
	ok    bool
}

func (f *fakeSweepRoles) ApplyTierRoles(ctx context.Context, guildID, holderID string, tier enums.Tier) bool {
	f.calls = append(f.calls, fmt.Sprintf("%s:%s:%s", guildID, holderID, tier))
	return f.ok
}

type sweepFixture struct {
	job    *subscriptionLifecycleJob
	repo   *fakeSweepRepo
	oplog  *fakeSweepOplog
	outbox *fakeSweepOutbox
	roles  *fakeSweepRoles
	now    time.Time
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	repo := newFakeSweepRepo()
	logEntries := &fakeSweepOplog{}
	events := newFakeSweepOutbox()
	roles := &fakeSweepRoles{ok: true}
	jobIface, err := NewSubscriptionLifecycleJob(SubscriptionLifecycleJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		DB:        sweepTxRunner{},
		Repo:      repo,
		Oplog:     logEntries,
		Outbox:    events,
		Roles:     roles,
		Lifecycle: config.LifecycleConfig{WarningLeadDays: 7, BatchLimit: 250},
	})
	if err != nil {
		t.Fatalf("NewSubscriptionLifecycleJob: %v", err)
	}
	job := jobIface.(*subscriptionLifecycleJob)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }
	return &sweepFixture{job: job, repo: repo, oplog: logEntries, outbox: events, roles: roles, now: now}
}

func (f *sweepFixture) addRow(guildID string, expiresIn time.Duration, autoRenew, warningSent bool) {
	expiry := f.now.Add(expiresIn)
	f.repo.rows[guildID] = &models.Subscription{
		GuildID:     guildID,
		HolderID:    "holder-" + guildID,
		Tier:        enums.TierPro,
		ExpiresAt:   &expiry,
		Active:      true,
		AutoRenew:   autoRenew,
		WarningSent: warningSent,
	}
}

func TestSweepWarnsInsideLeadWindow(t *testing.T) {
	f := newSweepFixture(t)
	f.addRow("guild-1", 3*24*time.Hour, false, false)

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	row := f.repo.rows["guild-1"]
	if !row.WarningSent {
		t.Fatal("expected warning flag set")
	}
	if row.Tier != enums.TierPro || row.ExpiresAt == nil {
		t.Fatal("warning must not change tier or expiry")
	}
	if f.outbox.countByType(enums.EventSubscriptionExpiring) != 1 {
		t.Fatalf("expected one expiring event, got %+v", f.outbox.emitted)
	}
	if len(f.oplog.entries) != 1 || f.oplog.entries[0].Action != enums.ActionSubscriptionWarn {
		t.Fatalf("expected warn oplog entry, got %+v", f.oplog.entries)
	}
}

func TestSweepWarnsExactlyOnce(t *testing.T) {
	f := newSweepFixture(t)
	f.addRow("guild-1", 3*24*time.Hour, false, false)

	for i := 0; i < 3; i++ {
		if err := f.job.Run(context.Background()); err != nil {
			t.Fatalf("run %d returned error: %v", i, err)
		}
	}
	if f.outbox.countByType(enums.EventSubscriptionExpiring) != 1 {
		t.Fatalf("expected exactly one warning across reruns, got %d", f.outbox.countByType(enums.EventSubscriptionExpiring))
	}
	if len(f.oplog.entries) != 1 {
		t.Fatalf("expected exactly one warn audit entry across reruns, got %+v", f.oplog.entries)
	}
}

func TestSweepRenewsFromStoredExpiry(t *testing.T) {
	f := newSweepFixture(t)
	f.addRow("guild-1", -2*time.Hour, true, true)
	storedExpiry := *f.repo.rows["guild-1"].ExpiresAt

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	row := f.repo.rows["guild-1"]
	want := storedExpiry.AddDate(0, 1, 0)
	if !row.ExpiresAt.Equal(want) {
		t.Fatalf("expected renewal from stored expiry %v, got %v", want, *row.ExpiresAt)
	}
	if row.WarningSent {
		t.Fatal("expected warning flag reset on renewal")
	}
	if row.Tier != enums.TierPro {
		t.Fatal("renewal must not change tier")
	}
	if f.outbox.countByType(enums.EventSubscriptionRenewed) != 1 {
		t.Fatal("expected one renewed event")
	}
	if len(f.oplog.entries) != 1 || f.oplog.entries[0].Action != enums.ActionSubscriptionRenew {
		t.Fatalf("expected renew oplog entry, got %+v", f.oplog.entries)
	}
	if len(f.roles.calls) != 0 {
		t.Fatalf("renewal must not touch roles, got %v", f.roles.calls)
	}
}

func TestSweepLateRenewalCatchesUpOnePeriodPerRun(t *testing.T) {
	f := newSweepFixture(t)
	// Expired ten weeks ago; each run extends by one month from the stored
	// expiry, so catching up to the future takes three runs.
	f.addRow("guild-1", -70*24*time.Hour, true, false)
	storedExpiry := *f.repo.rows["guild-1"].ExpiresAt

	for i := 0; i < 3; i++ {
		if err := f.job.Run(context.Background()); err != nil {
			t.Fatalf("run %d returned error: %v", i, err)
		}
	}
	row := f.repo.rows["guild-1"]
	want := storedExpiry.AddDate(0, 3, 0)
	if !row.ExpiresAt.Equal(want) {
		t.Fatalf("expected three single-period extensions to %v, got %v", want, *row.ExpiresAt)
	}
	if !row.ExpiresAt.After(f.now) {
		t.Fatal("expected the row to be caught up")
	}
	if f.outbox.countByType(enums.EventSubscriptionRenewed) != 3 {
		t.Fatalf("expected three renewed events, got %d", f.outbox.countByType(enums.EventSubscriptionRenewed))
	}
}

func TestSweepDowngradesExpiredNonRenewing(t *testing.T) {
	f := newSweepFixture(t)
	f.addRow("guild-1", -time.Second, false, true)

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	row := f.repo.rows["guild-1"]
	if row.Tier != enums.TierFree {
		t.Fatalf("expected free tier, got %s", row.Tier)
	}
	if row.ExpiresAt != nil || row.WarningSent {
		t.Fatalf("expected cleared expiry and warning, got %+v", row)
	}
	if !row.Active {
		t.Fatal("downgrade keeps the row active")
	}
	if f.outbox.countByType(enums.EventSubscriptionDowngraded) != 1 {
		t.Fatal("expected one downgrade event")
	}
	if len(f.roles.calls) != 1 || f.roles.calls[0] != "guild-1:holder-guild-1:free" {
		t.Fatalf("expected one role revoke, got %v", f.roles.calls)
	}
	if len(f.oplog.entries) != 1 || f.oplog.entries[0].Action != enums.ActionSubscriptionDowngrade {
		t.Fatalf("expected downgrade oplog entry, got %+v", f.oplog.entries)
	}
}

func TestSweepDowngradeIsIdempotent(t *testing.T) {
	f := newSweepFixture(t)
	f.addRow("guild-1", -time.Second, false, true)

	for i := 0; i < 3; i++ {
		if err := f.job.Run(context.Background()); err != nil {
			t.Fatalf("run %d returned error: %v", i, err)
		}
	}
	if f.outbox.countByType(enums.EventSubscriptionDowngraded) != 1 {
		t.Fatalf("expected one downgrade across reruns, got %d", f.outbox.countByType(enums.EventSubscriptionDowngraded))
	}
	if len(f.roles.calls) != 1 {
		t.Fatalf("expected one role revoke across reruns, got %v", f.roles.calls)
	}
}

func TestSweepIsolatesPerRowFailures(t *testing.T) {
	f := newSweepFixture(t)
	f.addRow("guild-bad", -time.Second, false, true)
	f.addRow("guild-good", -time.Second, false, true)
	f.repo.saveErr["guild-bad"] = fmt.Errorf("connection reset")

	err := f.job.Run(context.Background())
	if err == nil {
		t.Fatal("expected combined error for the failed row")
	}
	if f.repo.rows["guild-good"].Tier != enums.TierFree {
		t.Fatal("expected the healthy row to downgrade despite the failure")
	}
	if f.repo.rows["guild-bad"].Tier != enums.TierPro {
		t.Fatal("expected the failed row to keep its tier for the next run")
	}
}

func TestSweepIgnoresRowsOutsideWindow(t *testing.T) {
	f := newSweepFixture(t)
	f.addRow("guild-1", 30*24*time.Hour, false, false)

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(f.outbox.emitted) != 0 || len(f.oplog.entries) != 0 {
		t.Fatal("expected a quiet run for far-future expiry")
	}
}
