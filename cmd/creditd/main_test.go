package main

import (
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/trusttoken/contracts-pre22-sub001/config"
	"github.com/trusttoken/contracts-pre22-sub001/state"
	"github.com/trusttoken/contracts-pre22-sub001/storage"
)

func TestBuildNodeWiresRatingAgency(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	node := buildNode(cfg, state.NewManager(storage.NewMemDB()), logger)

	if node.Rating == nil {
		t.Fatal("rating engine missing from node")
	}
	pools := node.Pools.Pools()
	if len(pools) == 0 {
		t.Fatal("no pools configured")
	}
	p := pools[0]

	borrower := serviceAddress("test-borrower")
	principal := new(big.Int).Mul(big.NewInt(100_000), big.NewInt(1_000_000))
	id, err := node.Loans.Create(p, borrower, principal, 365*24*3600, 1200)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}

	node.Rating.AllowSubmitter(borrower)
	if err := node.Rating.Submit(id, borrower); err != nil {
		t.Fatalf("submit rating: %v", err)
	}
	// Votes snapshot the live staked balance, so an unstaked rater is
	// turned away with an error.
	if err := node.Rating.Yes(id, serviceAddress("test-rater")); err == nil {
		t.Fatal("zero-stake vote should be rejected")
	}
}
