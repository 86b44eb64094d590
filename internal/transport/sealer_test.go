package transport

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealerRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	sealer, err := NewSealer(key)
	if err != nil {
		t.Fatalf("new sealer failed: %v", err)
	}

	//1.- Sealed output must differ from the plaintext and round trip cleanly.
	plain := []byte(`{"type":"GAME_DATA","client_id":"client_1","data":{"type":"PLAYER_STATE"}}`)
	sealed, err := sealer.Seal(plain)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if bytes.Contains(sealed, []byte("PLAYER_STATE")) {
		t.Fatal("sealed datagram leaks plaintext")
	}
	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(plain, opened) {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestSealerRejectsTamperedPacket(t *testing.T) {
	sealer, err := NewSealer(bytes.Repeat([]byte{7}, 16))
	if err != nil {
		t.Fatalf("new sealer failed: %v", err)
	}
	sealed, err := sealer.Seal([]byte("{}"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	//1.- Flip one ciphertext bit and expect authentication failure.
	sealed[len(sealed)-1] ^= 0x01
	if _, err := sealer.Open(sealed); !errors.Is(err, ErrSealTampered) {
		t.Fatalf("expected ErrSealTampered, got %v", err)
	}

	//2.- Truncated packets shorter than a nonce are rejected too.
	if _, err := sealer.Open([]byte{1, 2, 3}); !errors.Is(err, ErrSealTampered) {
		t.Fatalf("expected ErrSealTampered for short packet, got %v", err)
	}
}

func TestSealerRejectsBadKeySize(t *testing.T) {
	if _, err := NewSealer([]byte("short")); err == nil {
		t.Fatal("expected error for 5-byte key")
	}
}

func TestNilSealerPassesThrough(t *testing.T) {
	var sealer *Sealer
	plain := []byte("hello")
	sealed, err := sealer.Seal(plain)
	if err != nil || !bytes.Equal(sealed, plain) {
		t.Fatalf("nil sealer must pass plaintext through, got %q err %v", sealed, err)
	}
	opened, err := sealer.Open(plain)
	if err != nil || !bytes.Equal(opened, plain) {
		t.Fatalf("nil sealer must pass packets through, got %q err %v", opened, err)
	}
}
