package sign

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := []byte("the index bytes")
	sig := Sign(priv, data)
	if !Verify(pub, data, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	pub, priv, _ := GenerateKey()
	data := []byte("the index bytes")
	sig := Sign(priv, data)
	if Verify(pub, []byte("tampered bytes!"), sig) {
		t.Fatalf("expected tampered data to fail verification")
	}
}

func TestKeyEncodeDecodeRoundTrip(t *testing.T) {
	pub, priv, _ := GenerateKey()

	encodedPriv := EncodeKey(priv)
	decodedPriv, err := DecodePrivateKey(encodedPriv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encodedPub := EncodeKey(pub)
	decodedPub, err := DecodePublicKey(encodedPub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := []byte("round trip")
	if !Verify(decodedPub, data, Sign(decodedPriv, data)) {
		t.Fatalf("expected decoded keypair to round trip")
	}
}

func TestDecodePrivateKeyRejectsWrongSize(t *testing.T) {
	if _, err := DecodePrivateKey(EncodeKey([]byte("too short"))); err == nil {
		t.Fatalf("expected error for undersized key")
	}
}
