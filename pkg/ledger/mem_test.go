package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestMemLedgerDebitAndCredit(t *testing.T) {
	l := NewMemLedger()
	l.Deposit("steve", 1000)

	if err := l.Debit(context.Background(), "steve", 400); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, err := l.Balance(context.Background(), "steve")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 600 {
		t.Fatalf("balance after debit: got %d, want 600", balance)
	}

	if err := l.Credit(context.Background(), "steve", 400); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, _ = l.Balance(context.Background(), "steve")
	if balance != 1000 {
		t.Fatalf("balance after credit: got %d, want 1000", balance)
	}
}

func TestMemLedgerOverdraw(t *testing.T) {
	l := NewMemLedger()
	l.Deposit("alex", 100)

	if err := l.Debit(context.Background(), "alex", 101); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	balance, _ := l.Balance(context.Background(), "alex")
	if balance != 100 {
		t.Fatalf("failed debit must not change the balance, got %d", balance)
	}
}

func TestMemLedgerUnknownAccount(t *testing.T) {
	l := NewMemLedger()
	if _, err := l.Balance(context.Background(), "nobody"); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}
