package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/ids"
	"campuswallet.org/internal/ledger"
	"campuswallet.org/internal/money"
	"campuswallet.org/internal/obs"
	"campuswallet.org/internal/store/pg"
)

// smoke-ledger drives one full wallet scenario against a live database and
// checks that money was conserved.
func main() {
	_ = godotenv.Load()
	log := obs.Logger()

	dsn := os.Getenv("WALLET_PG_DSN")
	if dsn == "" {
		log.Fatal("WALLET_PG_DSN is required")
	}
	store, err := pg.Open(dsn, pg.Options{Timeout: 5 * time.Second})
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, ledger.NewService(store)); err != nil {
		log.Error("smoke_failed", zap.Error(err))
		cancel()
		store.Close()
		os.Exit(1)
	}
	log.Info("smoke_ok")
}

func run(ctx context.Context, svc *ledger.Service) error {
	tag := ids.New()
	admin := auth.ContextWithIdentity(ctx, auth.Identity{Subject: "smoke-admin", Role: auth.RoleFinanceAdmin})

	alice, err := svc.OpenAccount(admin, "smoke-a-"+tag, ledger.KindPersonal)
	if err != nil {
		return fmt.Errorf("open alice: %w", err)
	}
	bob, err := svc.OpenAccount(admin, "smoke-b-"+tag, ledger.KindPersonal)
	if err != nil {
		return fmt.Errorf("open bob: %w", err)
	}
	org, err := svc.EnsureOrganizationAccount(admin, "smoke-org-"+tag)
	if err != nil {
		return fmt.Errorf("open org: %w", err)
	}

	asAlice := auth.ContextWithIdentity(ctx, auth.Identity{Subject: alice.HolderRef, Role: auth.RoleStudent, AccountID: alice.ID})
	asTreasurer := auth.ContextWithIdentity(ctx, auth.Identity{Subject: "smoke-treasurer", Role: auth.RoleTreasurer, OrgAccountID: org.ID})

	req, err := svc.SubmitCashIn(asAlice, alice.ID, money.MustParse("500.00"), "smoke top-up")
	if err != nil {
		return fmt.Errorf("cash-in: %w", err)
	}
	if _, err := svc.Approve(admin, req.ID); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	if _, err := svc.Transfer(asAlice, alice.ID, bob.HolderRef, money.MustParse("150.00"), "smoke transfer"); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	bill, err := svc.PostBill(asTreasurer, org.ID, "Smoke dues "+tag, "", money.MustParse("100.00"))
	if err != nil {
		return fmt.Errorf("post bill: %w", err)
	}
	if _, err := svc.PayBill(asAlice, alice.ID, bill.ID, ""); err != nil {
		return fmt.Errorf("pay bill: %w", err)
	}

	var total money.Amount
	want := map[string]money.Amount{
		alice.ID: money.MustParse("250.00"),
		bob.ID:   money.MustParse("150.00"),
		org.ID:   money.MustParse("100.00"),
	}
	for id, expected := range want {
		acct, err := svc.GetAccount(admin, id)
		if err != nil {
			return fmt.Errorf("get %s: %w", id, err)
		}
		if acct.Balance != expected {
			return fmt.Errorf("account %s balance %s, want %s", id, acct.Balance, expected)
		}
		total += acct.Balance
	}
	if total != money.MustParse("500.00") {
		return fmt.Errorf("conservation broken: total %s", total)
	}
	obs.Logger().Info("smoke_balances",
		zap.String("alice", want[alice.ID].String()),
		zap.String("bob", want[bob.ID].String()),
		zap.String("org", want[org.ID].String()),
	)
	return nil
}
