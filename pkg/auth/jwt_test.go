package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateParseRoundTrip(t *testing.T) {
	token, err := Generate(7, "ana", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 7 || claims.Username != "ana" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-a-token"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	token, err := Generate(1, "old", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}
