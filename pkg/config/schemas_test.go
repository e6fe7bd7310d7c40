package config

import (
	"testing"
)

func TestSchemaRegistry_RegisterAndValidate(t *testing.T) {
	sr := NewSchemaRegistry()

	err := sr.RegisterSchema("release", `
url:           =~"^[a-z]+://"
with_packages: string & !=""
`)
	if err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	type release struct {
		URL          string `json:"url"`
		WithPackages string `json:"with_packages"`
	}

	if err := sr.Validate("release", release{URL: "https://m/base.tar.xz", WithPackages: "packages.list"}); err != nil {
		t.Errorf("expected valid release, got %v", err)
	}
	if err := sr.Validate("release", release{URL: "base.tar.xz", WithPackages: "packages.list"}); err == nil {
		t.Error("expected error for relative url")
	}
}

func TestSchemaRegistry_InvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("broken", "a: {"); err == nil {
		t.Error("expected compile error")
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.Validate("nope", struct{}{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}
