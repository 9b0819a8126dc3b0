package directory

import "testing"

func TestDeriveDeterministic(t *testing.T) {
	a := Derive(NamespaceKeyLedger, "creator-1")
	b := Derive(NamespaceKeyLedger, "creator-1")
	if a != b {
		t.Fatal("same inputs derived different addresses")
	}
}

func TestDeriveDistinguishesNamespaces(t *testing.T) {
	a := Derive(NamespaceKeyLedger, "creator-1")
	b := Derive(NamespaceReserve, "creator-1")
	if a == b {
		t.Fatal("different namespaces derived the same address")
	}
}

func TestDeriveDistinguishesParts(t *testing.T) {
	a := Derive(NamespaceHolder, "creator-1", "holder-1")
	b := Derive(NamespaceHolder, "creator-1", "holder-2")
	if a == b {
		t.Fatal("different holders derived the same address")
	}
}

func TestDeriveLengthPrefixPreventsAmbiguity(t *testing.T) {
	a := Derive(NamespaceHolder, "ab", "c")
	b := Derive(NamespaceHolder, "a", "bc")
	if a == b {
		t.Fatal("part boundaries are ambiguous")
	}
}

func TestDeriveSharedCanonicalOrder(t *testing.T) {
	a := DeriveShared(NamespaceChatRoom, "alice", "bob")
	b := DeriveShared(NamespaceChatRoom, "bob", "alice")
	if a != b {
		t.Fatal("shared derivation depends on argument order")
	}

	other := DeriveShared(NamespaceChatRoom, "alice", "carol")
	if a == other {
		t.Fatal("different pairs derived the same address")
	}
}

func TestAddressString(t *testing.T) {
	addr := Derive(NamespaceKeyLedger, "creator-1")
	s := addr.String()
	if len(s) != 64 {
		t.Fatalf("address hex length = %d, want 64", len(s))
	}
}
