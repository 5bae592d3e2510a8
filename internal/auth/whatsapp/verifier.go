// Package whatsapp implements the phone-number login door. The
// service issues a short-lived one-time code against a phone number
// and verifies it on the way back; delivering the code over WhatsApp
// is owned by an external collaborator. A WhatsApp identity is only
// ever created verified, because it can only be reached through a
// successful code check.
package whatsapp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/qaaqit/identity-service/internal/identity"
)

const (
	codeTTL    = 5 * time.Minute
	codeDigits = 6
	keyPrefix  = "waotp:"
)

type Verifier struct {
	client *goredis.Client
}

func NewVerifier(client *goredis.Client) *Verifier {
	return &Verifier{client: client}
}

func (v *Verifier) key(phone string) string {
	return keyPrefix + phone
}

// Issue generates a fresh code for the phone number and stores it with
// a TTL, replacing any outstanding code. The code is returned to the
// caller for handoff to the delivery channel; it never appears in an
// HTTP response.
func (v *Verifier) Issue(ctx context.Context, phone string) (string, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return "", fmt.Errorf("whatsapp: empty phone number")
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}

	if err := v.client.Set(ctx, v.key(phone), code, codeTTL).Err(); err != nil {
		return "", fmt.Errorf("whatsapp: storing otp: %w", err)
	}
	return code, nil
}

// Verify checks the code for the phone number. A correct code is
// single-use: it is deleted before reporting success.
func (v *Verifier) Verify(ctx context.Context, phone, code string) (bool, error) {
	phone = NormalizePhone(phone)

	stored, err := v.client.Get(ctx, v.key(phone)).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("whatsapp: loading otp: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return false, nil
	}

	if err := v.client.Del(ctx, v.key(phone)).Err(); err != nil {
		return false, fmt.Errorf("whatsapp: consuming otp: %w", err)
	}
	return true, nil
}

// Login builds the normalized tuple for a phone number that has passed
// verification. The phone itself is the provider-scoped identifier.
func Login(phone string) identity.Login {
	phone = NormalizePhone(phone)
	return identity.Login{
		Provider:   identity.ProviderWhatsApp,
		ProviderID: phone,
		Attributes: identity.Attributes{
			Phone:    phone,
			Verified: true,
		},
	}
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("whatsapp: generating otp: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
