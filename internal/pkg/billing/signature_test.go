package billing

import (
	"encoding/base64"
	"testing"
)

func TestVerifyPaymeBasicAuth(t *testing.T) {
	const key = "merchant-key"
	valid := "Basic " + base64.StdEncoding.EncodeToString([]byte("Paycom:"+key))

	tests := []struct {
		name   string
		header string
		key    string
		want   bool
	}{
		{name: "valid", header: valid, key: key, want: true},
		{name: "wrong key", header: valid, key: "other-key", want: false},
		{name: "wrong login", header: "Basic " + base64.StdEncoding.EncodeToString([]byte("Someone:"+key)), key: key, want: false},
		{name: "no colon", header: "Basic " + base64.StdEncoding.EncodeToString([]byte("Paycom")), key: key, want: false},
		{name: "not base64", header: "Basic %%%", key: key, want: false},
		{name: "missing prefix", header: base64.StdEncoding.EncodeToString([]byte("Paycom:" + key)), key: key, want: false},
		{name: "empty header", header: "", key: key, want: false},
		{name: "empty configured key", header: valid, key: "", want: false},
	}

	for _, tt := range tests {
		if got := VerifyPaymeBasicAuth(tt.header, tt.key); got != tt.want {
			t.Fatalf("%s: VerifyPaymeBasicAuth = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestVerifyClickSignature(t *testing.T) {
	cfg := Config{ClickServiceID: 12345, ClickSecretKey: "secret"}

	sign := ClickSignString(111, 12345, "secret", "BZ250301120000TEST", "", "99000.00", 0, "2025-03-01 12:00:00")
	if !VerifyClickSignature(cfg, 111, 12345, "BZ250301120000TEST", "", "99000.00", 0, "2025-03-01 12:00:00", sign) {
		t.Fatalf("expected valid signature to verify")
	}

	// Any signed field changing must break the digest.
	if VerifyClickSignature(cfg, 111, 12345, "BZ250301120000TEST", "", "1.00", 0, "2025-03-01 12:00:00", sign) {
		t.Fatalf("expected tampered amount to fail")
	}
	if VerifyClickSignature(cfg, 222, 12345, "BZ250301120000TEST", "", "99000.00", 0, "2025-03-01 12:00:00", sign) {
		t.Fatalf("expected different click_trans_id to fail")
	}
	if VerifyClickSignature(cfg, 111, 99999, "BZ250301120000TEST", "", "99000.00", 0, "2025-03-01 12:00:00", sign) {
		t.Fatalf("expected foreign service id to fail")
	}
	if VerifyClickSignature(cfg, 111, 12345, "BZ250301120000TEST", "", "99000.00", 1, "2025-03-01 12:00:00", sign) {
		t.Fatalf("expected different action to fail")
	}
}

func TestClickSignStringIncludesPrepareIDOnlyWhenSet(t *testing.T) {
	prepare := ClickSignString(111, 12345, "secret", "BZ1", "", "100.00", 0, "2025-03-01 12:00:00")
	complete := ClickSignString(111, 12345, "secret", "BZ1", "42", "100.00", 1, "2025-03-01 12:00:00")
	if prepare == complete {
		t.Fatalf("prepare and complete digests must differ")
	}
}
