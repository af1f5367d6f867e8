package helpers

import (
	"testing"
)

func TestStringPointer(t *testing.T) {
	ptr := StringPointer("hello")
	if ptr == nil {
		t.Fatalf("StringPointer returned nil")
	}
	if *ptr != "hello" {
		t.Errorf("StringPointer returned %q, expected %q", *ptr, "hello")
	}

	empty := StringPointer("")
	if empty == nil {
		t.Fatalf("StringPointer returned nil for empty string")
	}
	if *empty != "" {
		t.Errorf("StringPointer returned %q, expected empty string", *empty)
	}

	if StringPointer("a") == StringPointer("a") {
		t.Errorf("StringPointer must return distinct pointers")
	}
}
