package blind

import "testing"

func TestRoundtrip(t *testing.T) {
	priv, pub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	addr := "192.168.1.100:9001"
	blob, err := Encrypt(pub, addr)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := Decrypt(priv, blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != addr {
		t.Errorf("Decrypt() = %q, want %q", got, addr)
	}
}

func TestWrongKeyFails(t *testing.T) {
	_, pub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	wrongPriv, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	blob, err := Encrypt(pub, "10.0.0.1:443")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(wrongPriv, blob); err == nil {
		t.Error("expected decrypt with wrong key to fail")
	}
}

func TestVariousAddresses(t *testing.T) {
	priv, pub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	addrs := []string{
		"1.2.3.4:9001",
		"192.0.2.1:443",
		"[::1]:9050",
		"relay.example.com:9001",
	}
	for _, addr := range addrs {
		blob, err := Encrypt(pub, addr)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", addr, err)
		}
		got, err := Decrypt(priv, blob)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", addr, err)
		}
		if got != addr {
			t.Errorf("roundtrip(%q) = %q", addr, got)
		}
	}
}

func TestEachEncryptionIsUnique(t *testing.T) {
	priv, pub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	addr := "1.2.3.4:9001"
	blob1, err := Encrypt(pub, addr)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	blob2, err := Encrypt(pub, addr)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if blob1 == blob2 {
		t.Error("expected distinct blobs from distinct ephemeral keys")
	}

	d1, err := Decrypt(priv, blob1)
	if err != nil {
		t.Fatalf("Decrypt(blob1): %v", err)
	}
	d2, err := Decrypt(priv, blob2)
	if err != nil {
		t.Fatalf("Decrypt(blob2): %v", err)
	}
	if d1 != addr || d2 != addr {
		t.Errorf("got d1=%q d2=%q, want both %q", d1, d2, addr)
	}
}

func TestDecryptRejectsShortBlob(t *testing.T) {
	priv, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if _, err := Decrypt(priv, "short"); err == nil {
		t.Error("expected error for short blob")
	}
}

func TestDecryptRejectsBadBase64(t *testing.T) {
	priv, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if _, err := Decrypt(priv, "not valid base64!!"); err == nil {
		t.Error("expected error for malformed base64")
	}
}
