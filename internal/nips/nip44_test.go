package nips

import (
	"strings"
	"testing"
)

func testKeypair(t *testing.T) ([]byte, []byte) {
	t.Helper()
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	pub, err := DerivePublicKey(priv)
	if err != nil {
		t.Fatalf("DerivePublicKey: %v", err)
	}
	return priv, pub
}

func TestConversationKeySymmetry(t *testing.T) {
	alicePriv, alicePub := testKeypair(t)
	bobPriv, bobPub := testKeypair(t)

	k1, err := ConversationKey(alicePriv, bobPub)
	if err != nil {
		t.Fatalf("ConversationKey(alice, bob): %v", err)
	}
	k2, err := ConversationKey(bobPriv, alicePub)
	if err != nil {
		t.Fatalf("ConversationKey(bob, alice): %v", err)
	}
	if string(k1) != string(k2) {
		t.Error("conversation keys differ between the two directions")
	}
}

func TestNip44RoundTrip(t *testing.T) {
	alicePriv, _ := testKeypair(t)
	_, bobPub := testKeypair(t)

	convKey, err := ConversationKey(alicePriv, bobPub)
	if err != nil {
		t.Fatalf("ConversationKey: %v", err)
	}

	plaintexts := []string{
		"a",
		"hello world",
		strings.Repeat("x", 1000),
		`{"method":"get_balance","params":{}}`,
		"emoji ⚡ and unicode é",
	}
	for _, pt := range plaintexts {
		ct, err := Nip44Encrypt(pt, convKey)
		if err != nil {
			t.Fatalf("Nip44Encrypt(%q): %v", pt[:min(len(pt), 20)], err)
		}
		got, err := Nip44Decrypt(ct, convKey)
		if err != nil {
			t.Fatalf("Nip44Decrypt: %v", err)
		}
		if got != pt {
			t.Errorf("round trip mismatch: got %q want %q", got, pt)
		}
	}
}

func TestNip44RejectsTamperedPayload(t *testing.T) {
	alicePriv, _ := testKeypair(t)
	_, bobPub := testKeypair(t)
	convKey, _ := ConversationKey(alicePriv, bobPub)

	ct, err := Nip44Encrypt("secret", convKey)
	if err != nil {
		t.Fatalf("Nip44Encrypt: %v", err)
	}

	// Flip a character in the middle of the base64 payload
	mid := len(ct) / 2
	flipped := byte('A')
	if ct[mid] == 'A' {
		flipped = 'B'
	}
	tampered := ct[:mid] + string(flipped) + ct[mid+1:]

	if _, err := Nip44Decrypt(tampered, convKey); err == nil {
		t.Error("tampered payload decrypted without error")
	}
}

func TestNip44RejectsWrongKey(t *testing.T) {
	alicePriv, _ := testKeypair(t)
	_, bobPub := testKeypair(t)
	evePriv, _ := testKeypair(t)

	sendKey, _ := ConversationKey(alicePriv, bobPub)
	wrongKey, _ := ConversationKey(evePriv, bobPub)

	ct, _ := Nip44Encrypt("secret", sendKey)
	if _, err := Nip44Decrypt(ct, wrongKey); err == nil {
		t.Error("decryption with the wrong conversation key succeeded")
	}
}

func TestNip44FutureVersionRejected(t *testing.T) {
	key := make([]byte, 32)
	if _, err := Nip44Decrypt("#Aq3gpayload", key); err == nil {
		t.Error("future-version payload accepted")
	}
}
