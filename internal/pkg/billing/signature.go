package billing

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// VerifyPaymeBasicAuth checks the Authorization header of a Payme webhook.
// The login is always the fixed "Paycom" literal and the password is the
// configured merchant key, compared in constant time. Returns false, never
// an error: the caller maps failure to Payme's -32504 envelope.
func VerifyPaymeBasicAuth(authHeader, merchantKey string) bool {
	if merchantKey == "" {
		return false
	}
	const prefix = "Basic "
	if !strings.HasPrefix(authHeader, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(authHeader[len(prefix):]))
	if err != nil {
		return false
	}
	login, key, found := strings.Cut(string(decoded), ":")
	if !found || login != paymeBasicAuthLogin {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(merchantKey)) == 1
}

// ClickSignString computes the MD5 digest Click signs its requests with.
// The field order is fixed by Click's documentation; merchantPrepareID is
// part of the digest only in the Complete phase. amount is the raw request
// value, not a re-formatted float, because Click signs the literal string
// it sent.
func ClickSignString(clickTransID, serviceID int64, secretKey, merchantTransID, merchantPrepareID, amount string, action int, signTime string) string {
	payload := fmt.Sprintf("%d%d%s%s%s%s%d%s",
		clickTransID,
		serviceID,
		secretKey,
		merchantTransID,
		merchantPrepareID,
		amount,
		action,
		signTime,
	)
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyClickSignature validates a Click request signature. The service id
// is checked first so a misrouted request fails fast without touching the
// digest. The comparison is case-sensitive per Click's contract.
func VerifyClickSignature(cfg Config, clickTransID, serviceID int64, merchantTransID, merchantPrepareID, amount string, action int, signTime, signString string) bool {
	if cfg.ClickSecretKey == "" {
		return false
	}
	if serviceID != cfg.ClickServiceID {
		return false
	}
	expected := ClickSignString(clickTransID, serviceID, cfg.ClickSecretKey, merchantTransID, merchantPrepareID, amount, action, signTime)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signString)) == 1
}
