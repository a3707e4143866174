package medaryon

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RFC3339UTC is the timestamp layout the API accepts (second precision, Z suffix)
const RFC3339UTC = "2006-01-02T15:04:05Z"

func hexID(n int) string {
	h := strings.ReplaceAll(uuid.NewString(), "-", "")
	return h[:n]
}

// RandomEmail returns a fresh address of the form u+<10 hex>@test.local
func RandomEmail() string {
	return "u+" + hexID(10) + "@test.local"
}

// RandomEmailFor prefixes the address with the role initial (p+..., d+...)
func RandomEmailFor(role Role) string {
	prefix := "u"
	if role != "" {
		prefix = string(role)[:1]
	}
	return prefix + "+" + hexID(10) + "@test.local"
}

// ProviderPaymentID returns a fake payment provider reference (pay_<12 hex>)
func ProviderPaymentID() string {
	return "pay_" + hexID(12)
}

// ReportURL returns a unique fake document location
func ReportURL() string {
	return "https://example.com/report/" + hexID(32)
}

// FutureRFC3339 formats now+d in UTC
func FutureRFC3339(now time.Time, d time.Duration) string {
	return now.Add(d).UTC().Format(RFC3339UTC)
}

// ClockRange formats a one-hour window starting at hour, e.g. 08:00-09:00
func ClockRange(hour int) (string, string) {
	return fmt.Sprintf("%02d:00", hour), fmt.Sprintf("%02d:00", hour+1)
}

// NewRegistration builds a registration for role with a random e-mail
func NewRegistration(role Role, firstName, lastName string) Registration {
	return Registration{
		Email:     RandomEmail(),
		Password:  DefaultPassword,
		Role:      role,
		FirstName: firstName,
		LastName:  lastName,
	}
}
