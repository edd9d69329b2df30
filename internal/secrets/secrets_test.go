package secrets

import (
	"context"
	"reflect"
	"testing"
)

func TestLoadTokenPool_JSONArray(t *testing.T) {
	store := NewInMemorySecretStore()
	store.SetSecret("pool", `["tok1","tok2"," tok3 "]`)

	got, err := LoadTokenPool(context.Background(), store, "pool")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"tok1", "tok2", "tok3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestLoadTokenPool_DelimitedString(t *testing.T) {
	store := NewInMemorySecretStore()
	store.SetSecret("pool", "tok1|tok2||")

	got, err := LoadTokenPool(context.Background(), store, "pool")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"tok1", "tok2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestLoadTokenPool_MissingSecret(t *testing.T) {
	store := NewInMemorySecretStore()

	if _, err := LoadTokenPool(context.Background(), store, "absent"); err == nil {
		t.Error("expected error for missing secret")
	}
}
