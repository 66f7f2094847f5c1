package rolesync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/internal/oplog"
	"github.com/guildworks/guildpass-backend/pkg/config"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/discord"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	"github.com/guildworks/guildpass-backend/pkg/logger"
)

const (
	proRole     = "role-pro"
	proPlusRole = "role-pro-plus"
)

type stubDirectory struct {
	members    map[string]*discord.Member
	resolveErr error
	granted    []string
	revoked    []string
	grantErr   error
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{members: make(map[string]*discord.Member)}
}

func (s *stubDirectory) ResolveMember(ctx context.Context, guildID, userID string) (*discord.Member, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return s.members[userID], nil
}

func (s *stubDirectory) ListMembers(ctx context.Context, guildID string) ([]discord.Member, error) {
	var members []discord.Member
	for _, member := range s.members {
		members = append(members, *member)
	}
	return members, nil
}

func (s *stubDirectory) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	if s.grantErr != nil {
		return s.grantErr
	}
	s.granted = append(s.granted, userID+":"+roleID)
	return nil
}

func (s *stubDirectory) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	s.revoked = append(s.revoked, userID+":"+roleID)
	return nil
}

type stubStore struct {
	byHolder map[string]models.Subscription
	saved    []models.Subscription
	saveErr  error
}

func (s *stubStore) ByHolder(ctx context.Context) (map[string]models.Subscription, error) {
	return s.byHolder, nil
}

func (s *stubStore) SaveTx(tx *gorm.DB, sub *models.Subscription) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, *sub)
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubOplog struct {
	entries []oplog.Entry
}

func (s *stubOplog) Append(ctx context.Context, tx *gorm.DB, entry oplog.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type syncFixture struct {
	svc       *Service
	directory *stubDirectory
	store     *stubStore
	oplog     *stubOplog
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	dir := newStubDirectory()
	st := &stubStore{byHolder: make(map[string]models.Subscription)}
	logEntries := &stubOplog{}
	svc, err := NewService(ServiceParams{
		Directory: dir,
		Store:     st,
		DB:        stubTxRunner{},
		Oplog:     logEntries,
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Roles:     config.RolesConfig{ProRoleID: proRole, ProPlusRoleID: proPlusRole},
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return &syncFixture{svc: svc, directory: dir, store: st, oplog: logEntries}
}

func TestApplyTierRolesGrantsTarget(t *testing.T) {
	f := newSyncFixture(t)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1"}

	if ok := f.svc.ApplyTierRoles(context.Background(), "guild-1", "holder-1", enums.TierPro); !ok {
		t.Fatal("expected success for resolvable member")
	}
	if len(f.directory.granted) != 1 || f.directory.granted[0] != "holder-1:"+proRole {
		t.Fatalf("unexpected grants %v", f.directory.granted)
	}
	if len(f.directory.revoked) != 0 {
		t.Fatalf("unexpected revokes %v", f.directory.revoked)
	}
}

func TestApplyTierRolesSwapsRoles(t *testing.T) {
	f := newSyncFixture(t)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1", RoleIDs: []string{proRole}}

	if ok := f.svc.ApplyTierRoles(context.Background(), "guild-1", "holder-1", enums.TierProPlus); !ok {
		t.Fatal("expected success")
	}
	if len(f.directory.revoked) != 1 || f.directory.revoked[0] != "holder-1:"+proRole {
		t.Fatalf("expected old role revoked, got %v", f.directory.revoked)
	}
	if len(f.directory.granted) != 1 || f.directory.granted[0] != "holder-1:"+proPlusRole {
		t.Fatalf("expected new role granted, got %v", f.directory.granted)
	}
}

func TestApplyTierRolesFreeRevokesEverything(t *testing.T) {
	f := newSyncFixture(t)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1", RoleIDs: []string{proRole, proPlusRole}}

	if ok := f.svc.ApplyTierRoles(context.Background(), "guild-1", "holder-1", enums.TierFree); !ok {
		t.Fatal("expected success")
	}
	if len(f.directory.revoked) != 2 {
		t.Fatalf("expected both roles revoked, got %v", f.directory.revoked)
	}
	if len(f.directory.granted) != 0 {
		t.Fatalf("free grants nothing, got %v", f.directory.granted)
	}
}

func TestApplyTierRolesTrialSharesPaidRole(t *testing.T) {
	f := newSyncFixture(t)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1"}

	if ok := f.svc.ApplyTierRoles(context.Background(), "guild-1", "holder-1", enums.TierTrialProPlus); !ok {
		t.Fatal("expected success")
	}
	if len(f.directory.granted) != 1 || f.directory.granted[0] != "holder-1:"+proPlusRole {
		t.Fatalf("expected trial to grant the paid role, got %v", f.directory.granted)
	}
}

func TestApplyTierRolesUnresolvableMember(t *testing.T) {
	f := newSyncFixture(t)

	if ok := f.svc.ApplyTierRoles(context.Background(), "guild-1", "ghost", enums.TierPro); ok {
		t.Fatal("expected false for missing member")
	}

	f.directory.resolveErr = fmt.Errorf("rate limited")
	if ok := f.svc.ApplyTierRoles(context.Background(), "guild-1", "holder-1", enums.TierPro); ok {
		t.Fatal("expected false on resolve failure")
	}
}

func TestApplyTierRolesIdempotentWhenRolesAlreadyCorrect(t *testing.T) {
	f := newSyncFixture(t)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1", RoleIDs: []string{proRole}}

	if ok := f.svc.ApplyTierRoles(context.Background(), "guild-1", "holder-1", enums.TierPro); !ok {
		t.Fatal("expected success")
	}
	if len(f.directory.granted) != 0 || len(f.directory.revoked) != 0 {
		t.Fatalf("expected no calls, got grants %v revokes %v", f.directory.granted, f.directory.revoked)
	}
}

func TestReconcileRepairsStoredTierFromRoles(t *testing.T) {
	f := newSyncFixture(t)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1", RoleIDs: []string{proPlusRole}}
	f.store.byHolder["holder-1"] = models.Subscription{
		GuildID:  "guild-1",
		HolderID: "holder-1",
		Tier:     enums.TierPro,
		Active:   true,
	}

	report, err := f.svc.ReconcileAll(context.Background(), "home-guild")
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if report.Updated != 1 {
		t.Fatalf("expected one update, got %+v", report)
	}
	if len(f.store.saved) != 1 || f.store.saved[0].Tier != enums.TierProPlus {
		t.Fatalf("expected stored tier repaired to Pro+, got %+v", f.store.saved)
	}
	if len(f.oplog.entries) != 1 || f.oplog.entries[0].Action != enums.ActionSubscriptionRoleRepair {
		t.Fatalf("expected role repair oplog entry, got %+v", f.oplog.entries)
	}
}

func TestReconcileReactivatesDeactivatedRowWhenRoleHeld(t *testing.T) {
	f := newSyncFixture(t)
	expiry := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1", RoleIDs: []string{proRole}}
	f.store.byHolder["holder-1"] = models.Subscription{
		GuildID:   "guild-1",
		HolderID:  "holder-1",
		Tier:      enums.TierPro,
		ExpiresAt: &expiry,
		Active:    false,
	}

	report, err := f.svc.ReconcileAll(context.Background(), "home-guild")
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if report.Updated != 1 {
		t.Fatalf("expected one update, got %+v", report)
	}
	saved := f.store.saved[0]
	if !saved.Active {
		t.Fatal("expected held role to reactivate the stored row")
	}
	if saved.Tier != enums.TierPro {
		t.Fatalf("reactivation must keep the role-implied tier, got %s", saved.Tier)
	}
	if len(f.oplog.entries) != 1 || f.oplog.entries[0].Action != enums.ActionSubscriptionRoleRepair {
		t.Fatalf("expected role repair oplog entry, got %+v", f.oplog.entries)
	}
}

func TestReconcileSkipsInactiveRowWithoutRoles(t *testing.T) {
	f := newSyncFixture(t)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1"}
	f.store.byHolder["holder-1"] = models.Subscription{
		GuildID:  "guild-1",
		HolderID: "holder-1",
		Tier:     enums.TierPro,
		Active:   false,
	}

	report, err := f.svc.ReconcileAll(context.Background(), "home-guild")
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if report.Updated != 0 || len(f.store.saved) != 0 {
		t.Fatalf("expected already-inactive row untouched, got %+v saved %+v", report, f.store.saved)
	}
}

func TestReconcileProPlusRoleWinsOverPro(t *testing.T) {
	f := newSyncFixture(t)
	member := discord.Member{UserID: "holder-1", RoleIDs: []string{proRole, proPlusRole}}

	if tier := f.svc.impliedTier(member); tier != enums.TierProPlus {
		t.Fatalf("expected Pro+ precedence, got %s", tier)
	}
}

func TestReconcileDeactivatesWhenRolesRevoked(t *testing.T) {
	f := newSyncFixture(t)
	expiry := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1"}
	f.store.byHolder["holder-1"] = models.Subscription{
		GuildID:   "guild-1",
		HolderID:  "holder-1",
		Tier:      enums.TierPro,
		ExpiresAt: &expiry,
		Active:    true,
	}

	report, err := f.svc.ReconcileAll(context.Background(), "home-guild")
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if report.Updated != 1 {
		t.Fatalf("expected one update, got %+v", report)
	}
	saved := f.store.saved[0]
	if saved.Active {
		t.Fatal("expected row deactivated")
	}
	if saved.Tier != enums.TierPro || saved.ExpiresAt == nil {
		t.Fatal("deactivation must keep tier and expiry for review")
	}
	if f.oplog.entries[0].Action != enums.ActionSubscriptionDeactivate {
		t.Fatalf("expected deactivate oplog entry, got %s", f.oplog.entries[0].Action)
	}
}

func TestReconcileLeavesConsistentMembersAlone(t *testing.T) {
	f := newSyncFixture(t)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1", RoleIDs: []string{proRole}}
	f.directory.members["holder-2"] = &discord.Member{UserID: "holder-2"}
	f.store.byHolder["holder-1"] = models.Subscription{
		GuildID:  "guild-1",
		HolderID: "holder-1",
		Tier:     enums.TierTrialPro,
		Active:   true,
	}

	report, err := f.svc.ReconcileAll(context.Background(), "home-guild")
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if report.Updated != 0 || len(report.Errors) != 0 {
		t.Fatalf("expected a quiet pass, got %+v", report)
	}
}

func TestReconcileCollectsPerMemberErrors(t *testing.T) {
	f := newSyncFixture(t)
	f.directory.members["holder-1"] = &discord.Member{UserID: "holder-1", RoleIDs: []string{proPlusRole}}
	f.directory.members["holder-2"] = &discord.Member{UserID: "holder-2", RoleIDs: []string{proPlusRole}}
	f.store.byHolder["holder-1"] = models.Subscription{GuildID: "guild-1", HolderID: "holder-1", Tier: enums.TierPro, Active: true}
	f.store.byHolder["holder-2"] = models.Subscription{GuildID: "guild-2", HolderID: "holder-2", Tier: enums.TierPro, Active: true}
	f.store.saveErr = fmt.Errorf("connection reset")

	report, err := f.svc.ReconcileAll(context.Background(), "home-guild")
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected errors for both members, got %+v", report.Errors)
	}
	if report.Updated != 0 {
		t.Fatalf("failed saves must not count as updates, got %d", report.Updated)
	}
}
