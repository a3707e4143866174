package stresstest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/studiowebux/medprobe/internal/executor"
	"github.com/studiowebux/medprobe/internal/extract"
	"github.com/studiowebux/medprobe/internal/medaryon"
	"github.com/studiowebux/medprobe/internal/types"
)

// StressPassword is the password of every account a stress run creates
const StressPassword = "password123"

// Sample is the result of one unit of work
type Sample struct {
	Status   int
	Duration time.Duration
	// Err is set when no response was obtained
	Err error
	// Invalid describes an unexpected status
	Invalid string
}

// IsNetworkError reports a sample without a usable response
func (s Sample) IsNetworkError() bool {
	return s.Err != nil || s.Status == 0 || s.Status == types.UnreachableStatus
}

// Message describes a failed sample
func (s Sample) Message() string {
	if s.Err != nil {
		return s.Err.Error()
	}
	return s.Invalid
}

// Workload is the unit of work a stress run repeats. Execute is called
// concurrently with distinct sequence numbers once Setup has returned.
type Workload interface {
	Name() string
	Setup(ctx context.Context) error
	Execute(ctx context.Context, seq int) Sample
}

// Timing is the latency of one setup call
type Timing struct {
	Step     string        `json:"step" yaml:"step"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// SetupTimer is implemented by workloads that create fixtures during Setup
type SetupTimer interface {
	SetupTimings() []Timing
}

// Options tune the built-in workloads
type Options struct {
	// Hello targets the liveness endpoint; nil falls back to the API client.
	Hello *executor.Client
	// Timeout bounds each sample. Zero means DefaultRequestTimeout.
	Timeout time.Duration
	// Now is the scheduling clock of the appointments workload.
	Now func() time.Time
}

var builtins = map[string]func(api *medaryon.API, opts Options) Workload{
	"hello": func(api *medaryon.API, opts Options) Workload {
		client := opts.Hello
		path := ""
		if client == nil {
			client = api.Client()
			path = "/api/hello"
		}
		return &helloWorkload{client: client, path: path, timeout: opts.Timeout}
	},
	"users": func(api *medaryon.API, opts Options) Workload {
		return &usersWorkload{api: api, timeout: opts.Timeout}
	},
	"availability": func(api *medaryon.API, opts Options) Workload {
		return &availabilityWorkload{fixtures: fixtures{api: api}, timeout: opts.Timeout}
	},
	"appointments": func(api *medaryon.API, opts Options) Workload {
		now := opts.Now
		if now == nil {
			now = time.Now
		}
		return &appointmentsWorkload{fixtures: fixtures{api: api}, timeout: opts.Timeout, now: now}
	},
}

// WorkloadNames lists the built-in workloads in their default run order
func WorkloadNames() []string {
	return []string{"hello", "users", "availability", "appointments"}
}

// NewWorkload returns the built-in workload called name
func NewWorkload(name string, api *medaryon.API, opts Options) (Workload, error) {
	build, ok := builtins[strings.ToLower(name)]
	if !ok {
		known := make([]string, 0, len(builtins))
		for k := range builtins {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown workload %q (available: %s)", name, strings.Join(known, ", "))
	}
	return build(api, opts), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultRequestTimeout
	}
	return context.WithTimeout(ctx, d)
}

// observe turns a call result into a sample, accepting the listed statuses
func observe(start time.Time, out *types.Outcome, err error, expected ...int) Sample {
	s := Sample{Duration: time.Since(start)}
	if out != nil {
		s.Status = out.Status
	}
	switch {
	case err != nil:
		s.Err = err
	case out.IsUnreachable():
		s.Err = out.Err
		if s.Err == nil {
			s.Err = errors.New(out.ErrorText())
		}
	case !out.StatusIn(expected...):
		msg := out.ErrorText()
		if msg == "" {
			msg = out.String()
		}
		s.Invalid = fmt.Sprintf("unexpected status %d: %s", out.Status, msg)
	}
	return s
}

var created = []int{http.StatusOK, http.StatusCreated}

type helloWorkload struct {
	client  *executor.Client
	path    string
	timeout time.Duration
}

func (w *helloWorkload) Name() string                    { return "hello" }
func (w *helloWorkload) Setup(ctx context.Context) error { return nil }

func (w *helloWorkload) Execute(ctx context.Context, seq int) Sample {
	ctx, cancel := withTimeout(ctx, w.timeout)
	defer cancel()
	start := time.Now()
	out, err := w.client.Do(ctx, types.Request{Method: http.MethodGet, Path: w.path})
	return observe(start, out, err, http.StatusOK)
}

// usersWorkload registers and logs in a fresh patient per sample
type usersWorkload struct {
	api     *medaryon.API
	timeout time.Duration
}

func (w *usersWorkload) Name() string                    { return "users" }
func (w *usersWorkload) Setup(ctx context.Context) error { return nil }

func (w *usersWorkload) Execute(ctx context.Context, seq int) Sample {
	ctx, cancel := withTimeout(ctx, w.timeout)
	defer cancel()

	reg := medaryon.Registration{
		Email:     medaryon.RandomEmail(),
		Password:  StressPassword,
		Role:      medaryon.RolePatient,
		FirstName: "User",
		LastName:  fmt.Sprint(seq),
	}
	start := time.Now()
	out, err := w.api.Register(ctx, reg)
	if s := observe(start, out, err, created...); s.IsNetworkError() || s.Invalid != "" {
		s.Invalid = prefix("register", s.Invalid)
		return s
	}
	out, err = w.api.Login(ctx, medaryon.Credentials{Email: reg.Email, Password: reg.Password})
	s := observe(start, out, err, http.StatusOK)
	s.Invalid = prefix("login", s.Invalid)
	return s
}

func prefix(step, msg string) string {
	if msg == "" {
		return ""
	}
	return step + ": " + msg
}

// actor is an account created during Setup
type actor struct {
	ID    int64
	Token string
}

// fixtures creates the doctor and patient shared by all samples
type fixtures struct {
	api     *medaryon.API
	timings []Timing
}

func (f *fixtures) SetupTimings() []Timing {
	return f.timings
}

func (f *fixtures) timed(step string, call func() (*types.Outcome, error)) (*types.Outcome, error) {
	start := time.Now()
	out, err := call()
	f.timings = append(f.timings, Timing{Step: step, Duration: time.Since(start)})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	return out, nil
}

func (f *fixtures) account(ctx context.Context, role medaryon.Role) (actor, error) {
	reg := medaryon.Registration{
		Email:     medaryon.RandomEmailFor(role),
		Password:  StressPassword,
		Role:      role,
		FirstName: strings.ToUpper(string(role)[:1]) + string(role)[1:],
		LastName:  "Stress",
	}

	out, err := f.timed(string(role)+" register", func() (*types.Outcome, error) { return f.api.Register(ctx, reg) })
	if err != nil {
		return actor{}, err
	}
	if !out.StatusIn(created...) {
		return actor{}, fmt.Errorf("%s registration failed: %s", role, out)
	}
	var a actor
	if id, err := extract.ID(out.Body(), "user"); err == nil {
		a.ID, _ = id.Int64()
	}

	creds := medaryon.Credentials{Email: reg.Email, Password: reg.Password}
	out, err = f.timed(string(role)+" login", func() (*types.Outcome, error) { return f.api.Login(ctx, creds) })
	if err != nil {
		return actor{}, err
	}
	if !out.StatusIn(http.StatusOK) {
		return actor{}, fmt.Errorf("%s login failed: %s", role, out)
	}
	if a.Token, err = extract.Token(out.Body()); err != nil {
		return actor{}, fmt.Errorf("%s login: %w", role, err)
	}
	return a, nil
}

// idOr mirrors the fallback to id 1 when the backend omits the user id
func idOr(id int64) int64 {
	if id == 0 {
		return 1
	}
	return id
}

func (f *fixtures) doctorWithSlot(ctx context.Context) (actor, error) {
	doctor, err := f.account(ctx, medaryon.RoleDoctor)
	if err != nil {
		return actor{}, err
	}
	slot := medaryon.Slot{DoctorID: idOr(doctor.ID), DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}
	out, err := f.timed("doctor availability", func() (*types.Outcome, error) { return f.api.CreateSlot(ctx, doctor.Token, slot) })
	if err != nil {
		return actor{}, err
	}
	if !out.StatusIn(created...) {
		return actor{}, fmt.Errorf("failed to create availability: %s", out)
	}
	return doctor, nil
}

// availabilityWorkload creates one weekly slot per sample
type availabilityWorkload struct {
	fixtures
	timeout time.Duration
	doctor  actor
}

func (w *availabilityWorkload) Name() string { return "availability" }

func (w *availabilityWorkload) Setup(ctx context.Context) (err error) {
	w.doctor, err = w.doctorWithSlot(ctx)
	return err
}

func (w *availabilityWorkload) Execute(ctx context.Context, seq int) Sample {
	ctx, cancel := withTimeout(ctx, w.timeout)
	defer cancel()

	startAt, endAt := medaryon.ClockRange(8 + seq%8)
	slot := medaryon.Slot{DoctorID: idOr(w.doctor.ID), DayOfWeek: seq % 7, StartTime: startAt, EndTime: endAt}
	start := time.Now()
	out, err := w.api.CreateSlot(ctx, w.doctor.Token, slot)
	return observe(start, out, err, created...)
}

// appointmentsWorkload books a distinct half-hour per sample
type appointmentsWorkload struct {
	fixtures
	timeout time.Duration
	now     func() time.Time
	base    time.Time
	doctor  actor
	patient actor
}

func (w *appointmentsWorkload) Name() string { return "appointments" }

func (w *appointmentsWorkload) Setup(ctx context.Context) (err error) {
	if w.doctor, err = w.doctorWithSlot(ctx); err != nil {
		return err
	}
	if w.patient, err = w.account(ctx, medaryon.RolePatient); err != nil {
		return err
	}
	w.base = w.now().Add(24 * time.Hour)
	return nil
}

func (w *appointmentsWorkload) Execute(ctx context.Context, seq int) Sample {
	ctx, cancel := withTimeout(ctx, w.timeout)
	defer cancel()

	appt := medaryon.Appointment{
		PatientID:   idOr(w.patient.ID),
		DoctorID:    idOr(w.doctor.ID),
		ScheduledAt: medaryon.FutureRFC3339(w.base, time.Duration(seq)*30*time.Minute),
		Notes:       fmt.Sprintf("stress appointment %d", seq),
	}
	start := time.Now()
	out, err := w.api.CreateAppointment(ctx, w.patient.Token, appt)
	return observe(start, out, err, created...)
}
