package store

import (
	"testing"

	"github.com/parleyhq/parley/internal/models"
)

func TestTagCustomerIdempotent(t *testing.T) {
	db := testDB(t)
	customer := models.Customer{Handle: "34600111222", Tags: "[]", Attributes: "{}"}
	if err := db.Create(&customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	if err := TagCustomer(db, customer.ID, "vip"); err != nil {
		t.Fatalf("tag: %v", err)
	}
	if err := TagCustomer(db, customer.ID, "vip"); err != nil {
		t.Fatalf("re-tag: %v", err)
	}
	if err := TagCustomer(db, customer.ID, "es"); err != nil {
		t.Fatalf("second tag: %v", err)
	}

	var got models.Customer
	db.First(&got, customer.ID)
	if got.Tags != `["vip","es"]` {
		t.Errorf("tags = %s, want [\"vip\",\"es\"]", got.Tags)
	}
}

func TestTagCustomerRequiresTag(t *testing.T) {
	db := testDB(t)
	if err := TagCustomer(db, 1, ""); err == nil {
		t.Fatal("expected error for empty tag")
	}
}

func TestSaveCustomerFieldOverwrites(t *testing.T) {
	db := testDB(t)
	customer := models.Customer{Handle: "34600111222", Tags: "[]", Attributes: "{}"}
	if err := db.Create(&customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	if err := SaveCustomerField(db, customer.ID, "city", "Madrid"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveCustomerField(db, customer.ID, "city", "Sevilla"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	var got models.Customer
	db.First(&got, customer.ID)
	if got.Attributes != `{"city":"Sevilla"}` {
		t.Errorf("attributes = %s, want {\"city\":\"Sevilla\"}", got.Attributes)
	}
}

func TestSaveCustomerFieldToleratesLegacyRows(t *testing.T) {
	db := testDB(t)
	customer := models.Customer{Handle: "34600111222", Tags: "[]", Attributes: "not json"}
	if err := db.Create(&customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	if err := SaveCustomerField(db, customer.ID, "city", "Madrid"); err != nil {
		t.Fatalf("save over legacy row: %v", err)
	}
	var got models.Customer
	db.First(&got, customer.ID)
	if got.Attributes != `{"city":"Madrid"}` {
		t.Errorf("attributes = %s", got.Attributes)
	}
}
