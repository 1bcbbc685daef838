package store

import (
	"context"
	"testing"

	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/model"
)

// seed creates one item and two locations.
func seed(t *testing.T, q Querier) (item *model.Item, storeLoc, facility *model.Location) {
	t.Helper()
	ctx := context.Background()

	item, err := CreateItem(ctx, q, model.Item{SKU: "X", Name: "Widget"}, testNow)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	storeLoc, err = CreateLocation(ctx, q, "Store", model.LocationKindStore, testNow)
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	facility, err = CreateLocation(ctx, q, "Facility A", model.LocationKindFacility, testNow)
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	return item, storeLoc, facility
}

func TestGetBalanceMissingIsZero(t *testing.T) {
	database := db.NewTestDB(t)
	item, loc, _ := seed(t, database)

	b, err := GetBalance(context.Background(), database, model.BalanceKey{ItemID: item.ID, LocationID: loc.ID})
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Quantity != 0 || b.Reserved != 0 || b.ItemID != item.ID || b.LocationID != loc.ID {
		t.Errorf("expected zero balance for key, got %+v", b)
	}
}

func TestPutBalanceKeepsZeroRows(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	item, loc, fac := seed(t, database)

	PutBalance(ctx, database, model.Balance{ItemID: item.ID, LocationID: loc.ID, Quantity: 10, Reserved: 2}, testNow)
	PutBalance(ctx, database, model.Balance{ItemID: item.ID, LocationID: fac.ID, Quantity: 5}, testNow)
	PutBalance(ctx, database, model.Balance{ItemID: item.ID, LocationID: fac.ID, Quantity: 0}, testNow)

	all, _ := ListBalances(ctx, database, item.ID, 0)
	if len(all) != 2 {
		t.Fatalf("expected 2 balance rows, got %d", len(all))
	}

	total, _ := TotalStock(ctx, database, item.ID)
	if total != 10 {
		t.Errorf("expected total 10, got %d", total)
	}

	b, _ := GetBalance(ctx, database, model.BalanceKey{ItemID: item.ID, LocationID: loc.ID})
	if b.Available() != 8 {
		t.Errorf("expected available 8, got %d", b.Available())
	}
}

func TestPutBalanceRejectsNegative(t *testing.T) {
	database := db.NewTestDB(t)
	item, loc, _ := seed(t, database)

	err := PutBalance(context.Background(), database, model.Balance{ItemID: item.ID, LocationID: loc.ID, Quantity: -1}, testNow)
	if err == nil {
		t.Error("expected negative balance to be rejected")
	}
}
