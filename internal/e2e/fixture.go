package e2e

import (
	"fmt"
	"time"

	"github.com/studiowebux/medprobe/internal/extract"
	"github.com/studiowebux/medprobe/internal/medaryon"
	"github.com/studiowebux/medprobe/internal/types"
)

// Account is a user registered during the run
type Account struct {
	Role     medaryon.Role      `json:"role"`
	ID       extract.Identifier `json:"id"`
	Email    string             `json:"email"`
	Password string             `json:"-"`
	Token    string             `json:"-"`
}

// NumericID returns the account id as the integer the API payloads expect
func (a Account) NumericID() (int64, error) {
	n, err := a.ID.Int64()
	if err != nil {
		return 0, fmt.Errorf("%s id %q: %w", a.Role, a.ID.String(), err)
	}
	return n, nil
}

// Fixture carries the state accumulated by the stages of one run: tokens
// and the identifiers of the records created so far. Stages receive it by
// pointer; it is discarded when the run ends.
type Fixture struct {
	API *medaryon.API
	// Clock is read by stages that build timestamps
	Clock func() time.Time

	Patient Account
	Doctor  Account

	SlotID        extract.Identifier
	Appointment   medaryon.Appointment
	AppointmentID extract.Identifier
	ReportIDs     []extract.Identifier
	PaymentID     extract.Identifier
	LastLogID     extract.Identifier

	// MeBody is the first /users/me response, compared against later calls
	MeBody any

	last *types.Outcome
}

// NewFixture returns an empty fixture bound to api
func NewFixture(api *medaryon.API) *Fixture {
	return &Fixture{API: api, Clock: time.Now}
}

// Last returns the outcome of the most recent call made through Observe
func (f *Fixture) Last() *types.Outcome {
	return f.last
}

// Observe records out as the latest outcome of the running stage and
// passes the pair through unchanged.
func (f *Fixture) Observe(out *types.Outcome, err error) (*types.Outcome, error) {
	if out != nil {
		f.last = out
	}
	return out, err
}

func (f *Fixture) now() time.Time {
	if f.Clock == nil {
		return time.Now()
	}
	return f.Clock()
}
