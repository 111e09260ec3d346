package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mylifebyai/mlbai/internal/cache"
	"github.com/mylifebyai/mlbai/internal/membership"
	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/patreon"
	mongorepo "github.com/mylifebyai/mlbai/internal/repositories/mongo"
	pgrepo "github.com/mylifebyai/mlbai/internal/repositories/postgres"
	"github.com/mylifebyai/mlbai/internal/utils"
	"github.com/sirupsen/logrus"
)

// Triggers recorded on sync runs.
const (
	TriggerCron      = "cron"
	TriggerAdmin     = "admin"
	TriggerUser      = "user"
	TriggerScheduler = "scheduler"
	TriggerCLI       = "cli"
	TriggerWebSocket = "websocket"
)

// Skip reasons.
const (
	SkipNoRefreshToken = "no refresh token"
	SkipNoProfile      = "profile not found"
)

type PatreonSyncService interface {
	// SyncUser resyncs one profile; mode "single".
	SyncUser(ctx context.Context, userID string) (*SyncReport, error)
	// SyncBatch resyncs req.UserIDs, or every linked profile when empty; mode "cron".
	SyncBatch(ctx context.Context, req BatchRequest) (*SyncReport, error)
	RecentRuns(ctx context.Context, limit int64) ([]models.SyncRun, error)
}

type BatchRequest struct {
	UserIDs []string
	Trigger string
	// OnResult, when set, sees every result as soon as it is produced.
	OnResult func(models.SyncResult)
}

type SyncReport struct {
	RunID      string              `json:"runId"`
	Mode       string              `json:"mode"`
	Trigger    string              `json:"trigger"`
	Processed  int                 `json:"processed"`
	Results    []models.SyncResult `json:"results"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
}

// Counts tallies results by status.
func (r *SyncReport) Counts() (ok, skipped, failed int) {
	for _, res := range r.Results {
		switch res.Status {
		case models.SyncStatusOK:
			ok++
		case models.SyncStatusSkipped:
			skipped++
		case models.SyncStatusError:
			failed++
		}
	}
	return ok, skipped, failed
}

type SyncDeps struct {
	Config   patreon.Config
	Client   MembershipClient
	Policy   membership.Policy
	Profiles pgrepo.ProfileRepository
	Audit    pgrepo.RoleChangeRepository // optional
	Cache    cache.Cache                 // optional
	Runs     mongorepo.SyncRunRepository // optional
	Logger   *logrus.Logger
	Now      func() time.Time
}

type patreonSyncService struct {
	cfg      patreon.Config
	client   MembershipClient
	policy   membership.Policy
	profiles pgrepo.ProfileRepository
	runs     mongorepo.SyncRunRepository
	roles    roleEvents
	log      *logrus.Logger
	now      func() time.Time
}

func NewPatreonSyncService(d SyncDeps) PatreonSyncService {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	return &patreonSyncService{
		cfg:      d.Config,
		client:   d.Client,
		policy:   d.Policy,
		profiles: d.Profiles,
		runs:     d.Runs,
		roles:    roleEvents{audit: d.Audit, cache: d.Cache, log: d.Logger},
		log:      d.Logger,
		now:      d.Now,
	}
}

func (s *patreonSyncService) SyncUser(ctx context.Context, userID string) (*SyncReport, error) {
	const op = "PatreonSyncService.SyncUser"

	if userID == "" {
		return nil, utils.E(utils.CodeUnauthorized, op, "unauthorized", nil)
	}
	report := s.newReport(models.SyncModeSingle, TriggerUser)

	profile, err := s.profiles.GetByUserID(ctx, userID)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		report.add(models.SyncResult{UserID: userID, Status: models.SyncStatusSkipped, Reason: SkipNoProfile}, nil)
	case err != nil:
		return nil, utils.E(utils.CodeInternal, op, "failed to load profile", err)
	default:
		report.add(s.syncOne(ctx, profile, report.RunID), nil)
	}
	return s.finish(ctx, report), nil
}

func (s *patreonSyncService) SyncBatch(ctx context.Context, req BatchRequest) (*SyncReport, error) {
	const op = "PatreonSyncService.SyncBatch"

	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerCron
	}
	report := s.newReport(models.SyncModeCron, trigger)
	log := s.log.WithFields(logrus.Fields{"run_id": report.RunID, "mode": report.Mode, "trigger": trigger})

	var (
		targets []models.MemberProfile
		missing []string
		err     error
	)
	if len(req.UserIDs) > 0 {
		ids := dedupe(req.UserIDs)
		targets, err = s.profiles.ListByUserIDs(ctx, ids)
		if err == nil {
			targets, missing = orderByIDs(targets, ids)
		}
	} else {
		targets, err = s.profiles.ListLinked(ctx)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list profiles", err)
	}
	log.WithField("targets", len(targets)+len(missing)).Info("patreon resync started")

	for _, id := range missing {
		report.add(models.SyncResult{UserID: id, Status: models.SyncStatusSkipped, Reason: SkipNoProfile}, req.OnResult)
	}
	for i := range targets {
		report.add(s.syncOne(ctx, &targets[i], report.RunID), req.OnResult)
	}
	return s.finish(ctx, report), nil
}

func (s *patreonSyncService) RecentRuns(ctx context.Context, limit int64) ([]models.SyncRun, error) {
	const op = "PatreonSyncService.RecentRuns"

	if s.runs == nil {
		return []models.SyncRun{}, nil
	}
	runs, err := s.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list sync runs", err)
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	return runs, nil
}

// syncOne never returns an error: every failure is folded into the result so
// the batch always runs to completion.
func (s *patreonSyncService) syncOne(ctx context.Context, p *models.MemberProfile, runID string) (res models.SyncResult) {
	log := s.log.WithFields(logrus.Fields{"run_id": runID, "user_id": p.UserID})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("patreon resync: panic")
			res = models.SyncResult{UserID: p.UserID, Status: models.SyncStatusError, Error: "internal error"}
		}
	}()

	if !p.Linked() {
		return models.SyncResult{UserID: p.UserID, Status: models.SyncStatusSkipped, Reason: SkipNoRefreshToken}
	}
	now := s.now().UTC()

	tokens, err := s.client.RefreshAccessToken(ctx, *p.PatreonRefreshToken)
	if err != nil {
		if patreon.IsRevoked(err) {
			log.WithError(err).Info("patreon resync: grant revoked")
			return s.revoke(ctx, p, now, log)
		}
		log.WithError(err).Error("patreon resync: refresh failed")
		s.stamp(ctx, p.UserID, now, nil, log)
		return errorResult(p.UserID, patreon.SafeReason(err, "Patreon token refresh failed"))
	}

	snap, err := s.client.FetchMembership(ctx, tokens.AccessToken, s.cfg.CampaignID)
	if err != nil {
		log.WithError(err).Error("patreon resync: membership fetch failed")
		// the previous refresh token may already be spent
		s.stamp(ctx, p.UserID, now, &tokens.RefreshToken, log)
		return errorResult(p.UserID, patreon.SafeReason(err, "Patreon membership fetch failed"))
	}

	tier, status := snap.TierID, models.StatusNoMembership
	if snap.Status != nil {
		status = *snap.Status
	}
	if s.cfg.CampaignID != "" && (snap.CampaignID == nil || *snap.CampaignID != s.cfg.CampaignID) {
		log.WithField("campaign_id", deref(snap.CampaignID)).Warn("patreon resync: no membership in configured campaign")
		tier, status = nil, models.StatusNoMembership
	}

	before := p.Role
	role := s.policy.Derive(tier, p.Role, p.EmailValue())
	refresh := tokens.RefreshToken

	p.Role = role
	if snap.PatreonUserID != nil {
		p.PatreonUserID = snap.PatreonUserID
	}
	p.PatreonTierID = tier
	p.PatreonStatus = &status
	p.PatreonLastSyncAt = &now
	p.PatreonLastSuccessAt = &now
	p.PatreonRefreshToken = &refresh

	if err := s.profiles.Upsert(ctx, p); err != nil {
		log.WithError(err).Error("patreon resync: profile upsert failed")
		return errorResult(p.UserID, "failed to save profile")
	}
	s.roles.changed(ctx, p.UserID, before, role, models.RoleSourceResync, map[string]any{
		"run_id":         runID,
		"tier_id":        deref(tier),
		"patreon_status": status,
	})
	return models.SyncResult{
		UserID:        p.UserID,
		Status:        models.SyncStatusOK,
		Role:          role,
		TierID:        tier,
		PatreonStatus: &status,
	}
}

// revoke demotes as if no tier were entitled and drops the dead credential.
func (s *patreonSyncService) revoke(ctx context.Context, p *models.MemberProfile, now time.Time, log *logrus.Entry) models.SyncResult {
	before := p.Role
	role := s.policy.Derive(nil, p.Role, p.EmailValue())
	status := models.StatusRevoked

	p.Role = role
	p.PatreonTierID = nil
	p.PatreonStatus = &status
	p.PatreonRefreshToken = nil
	p.PatreonLastSyncAt = &now

	if err := s.profiles.Upsert(ctx, p); err != nil {
		log.WithError(err).Error("patreon resync: revoke upsert failed")
		return errorResult(p.UserID, "failed to save profile")
	}
	s.roles.changed(ctx, p.UserID, before, role, models.RoleSourceRevoke, nil)
	return models.SyncResult{
		UserID:        p.UserID,
		Status:        models.SyncStatusOK,
		Role:          role,
		PatreonStatus: &status,
	}
}

func (s *patreonSyncService) stamp(ctx context.Context, userID string, at time.Time, refresh *string, log *logrus.Entry) {
	if err := s.profiles.TouchSync(ctx, userID, at, refresh); err != nil {
		log.WithError(err).Warn("patreon resync: attempt stamp failed")
	}
}

func (s *patreonSyncService) newReport(mode, trigger string) *SyncReport {
	return &SyncReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Trigger:   trigger,
		Results:   []models.SyncResult{},
		StartedAt: s.now().UTC(),
	}
}

func (s *patreonSyncService) finish(ctx context.Context, r *SyncReport) *SyncReport {
	r.FinishedAt = s.now().UTC()
	r.Processed = len(r.Results)
	ok, skipped, failed := r.Counts()

	s.log.WithFields(logrus.Fields{
		"run_id":    r.RunID,
		"mode":      r.Mode,
		"trigger":   r.Trigger,
		"processed": r.Processed,
		"ok":        ok,
		"skipped":   skipped,
		"errors":    failed,
	}).Info("patreon resync finished")

	if s.runs != nil {
		run := &models.SyncRun{
			RunID:      r.RunID,
			Mode:       r.Mode,
			Trigger:    r.Trigger,
			Processed:  r.Processed,
			OK:         ok,
			Skipped:    skipped,
			Errors:     failed,
			Results:    r.Results,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		}
		if err := s.runs.Insert(ctx, run); err != nil {
			s.log.WithError(err).WithField("run_id", r.RunID).Warn("sync run history write failed")
		}
	}
	return r
}

func (r *SyncReport) add(res models.SyncResult, onResult func(models.SyncResult)) {
	r.Results = append(r.Results, res)
	if onResult != nil {
		onResult(res)
	}
}

func errorResult(userID, msg string) models.SyncResult {
	return models.SyncResult{UserID: userID, Status: models.SyncStatusError, Error: msg}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// orderByIDs returns profiles in request order plus the ids with no row.
func orderByIDs(found []models.MemberProfile, ids []string) ([]models.MemberProfile, []string) {
	byID := make(map[string]models.MemberProfile, len(found))
	for _, p := range found {
		byID[p.UserID] = p
	}
	ordered := make([]models.MemberProfile, 0, len(found))
	var missing []string
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		} else {
			missing = append(missing, id)
		}
	}
	return ordered, missing
}
