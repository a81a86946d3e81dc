package adapters

import (
	"context"
	"errors"
	"testing"

	"fibudget/internal/amqp"
	"fibudget/internal/core"
	"fibudget/internal/ledger"
	"fibudget/internal/ledger/memory"
)

type fakePublisher struct {
	msgs []*amqp.BudgetSavedMessage
	err  error
}

func (f *fakePublisher) PublishBudgetSaved(_ context.Context, msg *amqp.BudgetSavedMessage) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	err := s.UpsertLineItems(context.Background(), core.DefaultVersion, []core.LineItem{
		{ID: "6100", Name: "Salaries", Path: "org/ops"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func TestPublishingStore_SaveBudget(t *testing.T) {
	tests := []struct {
		name       string
		itemID     string
		publishErr error
		wantErr    error
		wantMsgs   int
	}{
		{name: "publishes after save", itemID: "6100", wantMsgs: 1},
		{name: "publish failure does not fail save", itemID: "6100", publishErr: errors.New("broker down"), wantMsgs: 1},
		{name: "store failure skips publish", itemID: "missing", wantErr: ledger.ErrLineItemNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			pub := &fakePublisher{err: tt.publishErr}
			s := NewPublishingStore(store, pub, nil)

			err := s.SaveBudget(ctx, tt.itemID, core.DefaultVersion, core.PeriodMap{"P01": 100})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SaveBudget() error = %v, want %v", err, tt.wantErr)
			}
			if len(pub.msgs) != tt.wantMsgs {
				t.Fatalf("published %d messages, want %d", len(pub.msgs), tt.wantMsgs)
			}
			if tt.wantMsgs == 0 {
				return
			}

			msg := pub.msgs[0]
			if msg.LineItemID != "6100" || msg.Version != core.DefaultVersion || msg.Periods["P01"] != 100 {
				t.Errorf("unexpected message %+v", msg)
			}
			items, _ := store.ReadLineItems(ctx, "org", core.DefaultVersion)
			if len(items) != 1 || items[0].At("P01").Budget != 100 {
				t.Errorf("value not stored: %+v", items)
			}
		})
	}
}

func TestPublishingStore_NilPublisher(t *testing.T) {
	s := NewPublishingStore(newStore(t), nil, nil)
	if err := s.SaveBudget(context.Background(), "6100", core.DefaultVersion, core.PeriodMap{"P02": 5}); err != nil {
		t.Fatalf("SaveBudget() error = %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
