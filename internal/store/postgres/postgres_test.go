package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"ratebook/internal/model"
	"ratebook/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("RATEBOOK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RATEBOOK_TEST_DATABASE_URL not set")
	}
	s, err := New(context.Background(), url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestStore_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash := "pg-" + uuid.NewString()
	provider := "PG-" + uuid.NewString()[:8]
	b := &model.ImportBatch{
		BatchID:      uuid.NewString(),
		ProviderCode: provider,
		ContractType: model.ContractHire,
		FileName:     "rates.xlsx",
		FileHash:     hash,
	}
	t.Cleanup(func() { _ = s.DeleteBatch(context.Background(), b.BatchID) })

	if err := s.ClaimBatch(ctx, b); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	dup := &model.ImportBatch{BatchID: uuid.NewString(), ProviderCode: provider, FileName: "x.xlsx", FileHash: hash}
	if err := s.ClaimBatch(ctx, dup); !errors.Is(err, store.ErrDuplicateHash) {
		t.Fatalf("duplicate claim err=%v want=%v", err, store.ErrDuplicateHash)
	}

	otr := int64(2500000)
	rates := []model.ParsedRate{{
		CapCode: "FOFO15ST5HPTM", Manufacturer: "Ford", Model: "Focus", Term: 36, AnnualMileage: 10000,
		InitialMonths: 1, PaymentProfileLabel: "1+35", ContractType: model.ContractHire, MonthlyRental: 25000,
		IsMaintained: true, OTR: &otr, SourceSheet: "Rates", SourceRow: 2, SourceCol: 6,
	}}
	b.SuccessRows = 1
	b.TotalRows = 1
	if err := s.CompleteBatch(ctx, b, rates, []model.SheetMeta{{SheetName: "Rates", Format: model.FormatTabular, Status: "imported"}}); err != nil {
		t.Fatalf("CompleteBatch: %v", err)
	}

	got, err := s.GetBatch(ctx, b.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Status != model.BatchCompleted || !got.IsLatest {
		t.Fatalf("batch got=%+v", got)
	}
	listed, err := s.ListRates(ctx, b.BatchID, 10, 0)
	if err != nil || len(listed) != 1 || listed[0].OTR == nil || *listed[0].OTR != otr || listed[0].CO2 != nil {
		t.Fatalf("rates got=%+v err=%v", listed, err)
	}

	if err := s.DeleteBatch(ctx, b.BatchID); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if _, err := s.FindBatchByHash(ctx, hash); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindBatchByHash after delete err=%v", err)
	}
}
