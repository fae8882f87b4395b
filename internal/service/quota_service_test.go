package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/pkg/config"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

type fakeQuotaRepo struct {
	rows        map[string]*models.StudentQuota
	upserted    []*models.StudentQuota
	resetCalls  []string
	forceCalls  []string
	findErr     error
	upsertErr   error
	stale       []models.StudentQuota
	all         []models.StudentQuota
	resetFailID string
}

func (f *fakeQuotaRepo) Find(_ context.Context, studentID string) (*models.StudentQuota, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if row, ok := f.rows[studentID]; ok {
		clone := *row
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeQuotaRepo) Upsert(_ context.Context, quota *models.StudentQuota) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, quota)
	return nil
}

func (f *fakeQuotaRepo) ListStale(_ context.Context, _ time.Time, _ int) ([]models.StudentQuota, error) {
	return f.stale, nil
}

func (f *fakeQuotaRepo) ListAll(_ context.Context, _, _ int) ([]models.StudentQuota, error) {
	return f.all, nil
}

func (f *fakeQuotaRepo) Reset(_ context.Context, studentID string, _ time.Time) (bool, error) {
	if studentID == f.resetFailID {
		return false, errResetFailed
	}
	f.resetCalls = append(f.resetCalls, studentID)
	return true, nil
}

func (f *fakeQuotaRepo) ForceReset(_ context.Context, studentID string, _ time.Time) error {
	f.forceCalls = append(f.forceCalls, studentID)
	return nil
}

var errResetFailed = appErrors.ErrDBUnavailable

func newQuotaService(repo *fakeQuotaRepo) *QuotaService {
	svc := NewQuotaService(repo, config.QuotaConfig{Level1MonthlyCap: 4, Level1AutoApproveLimit: 2}, nil)
	svc.now = func() time.Time { return at("2030-06-15T12:00:00Z") }
	return svc
}

func TestEvaluateLevel1Policy(t *testing.T) {
	svc := newQuotaService(&fakeQuotaRepo{})
	now := at("2030-06-15T12:00:00Z")

	quota := &models.StudentQuota{ServiceLevel: models.ServiceLevel1, LastResetAt: models.FirstOfMonth(now)}

	decision := svc.Evaluate(quota, now)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.AutoApproved)

	quota.MeetingsUsed = 2
	decision = svc.Evaluate(quota, now)
	assert.True(t, decision.Allowed)
	assert.False(t, decision.AutoApproved)

	quota.MeetingsUsed = 4
	decision = svc.Evaluate(quota, now)
	assert.False(t, decision.Allowed)
}

func TestEvaluateLevel2AndPremium(t *testing.T) {
	svc := newQuotaService(&fakeQuotaRepo{})
	now := at("2030-06-15T12:00:00Z")

	level2 := &models.StudentQuota{ServiceLevel: models.ServiceLevel2, MeetingsUsed: 50, LastResetAt: models.FirstOfMonth(now)}
	decision := svc.Evaluate(level2, now)
	assert.True(t, decision.Allowed)
	assert.False(t, decision.AutoApproved)

	premium := &models.StudentQuota{ServiceLevel: models.ServicePremium, MeetingsUsed: 50, LastResetAt: models.FirstOfMonth(now)}
	decision = svc.Evaluate(premium, now)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.AutoApproved)
}

func TestEvaluateLazyReset(t *testing.T) {
	svc := newQuotaService(&fakeQuotaRepo{})
	now := at("2030-06-15T12:00:00Z")

	quota := &models.StudentQuota{
		ServiceLevel: models.ServiceLevel1,
		MeetingsUsed: 4,
		LastResetAt:  at("2030-05-01T00:00:00Z"),
	}

	decision := svc.Evaluate(quota, now)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.AutoApproved)
	assert.Equal(t, 0, quota.MeetingsUsed)
	assert.Equal(t, models.FirstOfMonth(now), quota.LastResetAt)

	// A second evaluation in the same month must not reset again.
	quota.MeetingsUsed = 3
	svc.Evaluate(quota, now)
	assert.Equal(t, 3, quota.MeetingsUsed)
}

func TestConsumeIncrementsAndPersists(t *testing.T) {
	repo := &fakeQuotaRepo{rows: map[string]*models.StudentQuota{
		"s1": {StudentID: "s1", ServiceLevel: models.ServiceLevel1, MeetingsUsed: 1, LastResetAt: at("2030-06-01T00:00:00Z")},
	}}
	svc := newQuotaService(repo)

	decision, err := svc.Consume(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	require.Len(t, repo.upserted, 1)
	assert.Equal(t, 2, repo.upserted[0].MeetingsUsed)
}

func TestConsumeRejectsWhenCapReached(t *testing.T) {
	repo := &fakeQuotaRepo{rows: map[string]*models.StudentQuota{
		"s1": {StudentID: "s1", ServiceLevel: models.ServiceLevel1, MeetingsUsed: 4, LastResetAt: at("2030-06-01T00:00:00Z")},
	}}
	svc := newQuotaService(repo)

	_, err := svc.Consume(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrQuotaExceeded.Code))
	assert.Empty(t, repo.upserted)
}

func TestConsumeDefaultsNewStudentToLevel1(t *testing.T) {
	repo := &fakeQuotaRepo{}
	svc := newQuotaService(repo)

	decision, err := svc.Consume(context.Background(), "fresh")
	require.NoError(t, err)
	assert.True(t, decision.AutoApproved)
	require.Len(t, repo.upserted, 1)
	assert.Equal(t, models.ServiceLevel1, repo.upserted[0].ServiceLevel)
	assert.Equal(t, 1, repo.upserted[0].MeetingsUsed)
}

func TestResetAllStaleOnly(t *testing.T) {
	repo := &fakeQuotaRepo{stale: []models.StudentQuota{
		{StudentID: "s1"}, {StudentID: "s2"},
	}}
	svc := newQuotaService(repo)

	result, err := svc.ResetAll(context.Background(), false, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []string{"s1", "s2"}, repo.resetCalls)
	assert.Empty(t, repo.forceCalls)
}

func TestResetAllCollectsPerStudentFailures(t *testing.T) {
	repo := &fakeQuotaRepo{
		stale:       []models.StudentQuota{{StudentID: "s1"}, {StudentID: "bad"}, {StudentID: "s3"}},
		resetFailID: "bad",
	}
	svc := newQuotaService(repo)

	result, err := svc.ResetAll(context.Background(), false, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "bad")
}

func TestResetAllForce(t *testing.T) {
	repo := &fakeQuotaRepo{all: []models.StudentQuota{{StudentID: "s1"}}}
	svc := newQuotaService(repo)

	result, err := svc.ResetAll(context.Background(), true, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []string{"s1"}, repo.forceCalls)
}

func TestSetLevelValidatesLevel(t *testing.T) {
	svc := newQuotaService(&fakeQuotaRepo{})
	_, err := svc.SetLevel(context.Background(), "s1", models.ServiceLevel("gold"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrBadRequest.Code))
}
