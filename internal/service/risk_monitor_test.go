package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuswallet/internal/model"
	"campuswallet/internal/repository"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, model.RiskTierLow, Classify(nil))
	assert.Equal(t, model.RiskTierMedium, Classify([]string{FlagLargeAmount}))
	assert.Equal(t, model.RiskTierHigh, Classify([]string{FlagVerificationMismatch}))
	assert.Equal(t, model.RiskTierHigh, Classify([]string{FlagRoundAmount, FlagRapidRepetition}))
}

func TestAssessTransferRecordsOnlyFlaggedActivity(t *testing.T) {
	e := newEnv(t)
	monitor := e.deps.Monitor
	riskRepo := repository.NewRiskRepository(e.deps.DB)
	ctx := context.Background()

	quiet, err := monitor.AssessTransfer(ctx, &model.TransferRecord{
		TransferNo: "TRF1", SenderID: "A", RecipientID: "B", Amount: 1234, Status: model.TransferStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskTierLow, quiet.Tier)

	events, err := riskRepo.ListByAccount(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, events)

	loud, err := monitor.AssessTransfer(ctx, &model.TransferRecord{
		TransferNo: "TRF2", SenderID: "A", RecipientID: "B", Amount: 5000000, Status: model.TransferStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskTierHigh, loud.Tier)
	assert.Equal(t, []string{FlagLargeAmount, FlagRoundAmount}, loud.Flags)

	events, err = riskRepo.ListByAccount(ctx, "A")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "TRF2", events[0].RefNo)
	assert.Equal(t, model.ActivityTransfer, events[0].ActivityType)
}

func TestAssessTransferFailureRate(t *testing.T) {
	e := newEnv(t)
	e.open(t, "A", model.RoleUser)
	e.open(t, "B", model.RoleUser)
	e.fund(t, "A", 100)
	svc := NewTransferService(e.deps)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 1000})
		require.ErrorIs(t, err, ErrInsufficientFunds)
	}

	events, err := repository.NewRiskRepository(e.deps.DB).ListByAccount(ctx, "A")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Contains(t, events[len(events)-1].Flags, FlagHighFailureRate)
}
