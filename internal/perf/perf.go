// Package perf measures create and update latencies of the Medaryon API
// under a fixed amount of parallelism.
package perf

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/medprobe/internal/extract"
	"github.com/studiowebux/medprobe/internal/medaryon"
	"github.com/studiowebux/medprobe/internal/types"
)

const (
	// DefaultWorkers is the number of create/update pairs per case
	DefaultWorkers = 50
	// MaxParallel caps concurrently running workers
	MaxParallel = 20
)

var created = []int{http.StatusOK, http.StatusCreated}

// StepError reports the call that stopped a case
type StepError struct {
	Case    string
	Worker  int
	Step    string
	Outcome *types.Outcome
	Err     error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s worker %d: %s: %v", e.Case, e.Worker, e.Step, e.Err)
	}
	return fmt.Sprintf("%s worker %d: %s returned %s", e.Case, e.Worker, e.Step, e.Outcome)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Measurement is the pair of timed calls made by one worker
type Measurement struct {
	Create time.Duration
	Update time.Duration
}

// Result aggregates one case
type Result struct {
	Name      string        `json:"name" yaml:"name"`
	Workers   int           `json:"workers" yaml:"workers"`
	CreateAvg time.Duration `json:"create_avg" yaml:"create_avg"`
	UpdateAvg time.Duration `json:"update_avg" yaml:"update_avg"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Case is a create-then-update measurement run by each worker
type Case struct {
	Name string
	Run  func(ctx context.Context, w *worker) (Measurement, error)
}

// Suite runs the cases against one API
type Suite struct {
	API      *medaryon.API
	Workers  int
	Parallel int
	Log      logrus.FieldLogger
	// Clock is used for appointment timestamps
	Clock func() time.Time
}

// New returns a suite with the default parallelism
func New(api *medaryon.API, workers int, logger logrus.FieldLogger) *Suite {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Suite{API: api, Workers: workers, Parallel: MaxParallel, Log: logger, Clock: time.Now}
}

// Cases returns users, availability and appointments in that order
func Cases() []Case {
	return []Case{
		{Name: "users", Run: usersCase},
		{Name: "availability", Run: availabilityCase},
		{Name: "appointments", Run: appointmentsCase},
	}
}

// Run executes cases in order and stops at the first failing one. The
// results of the cases that completed are returned with the error.
func (s *Suite) Run(ctx context.Context, cases []Case) ([]Result, error) {
	var results []Result
	for _, c := range cases {
		res, err := s.RunCase(ctx, c)
		if err != nil {
			return results, err
		}
		s.Log.WithFields(logrus.Fields{
			"case":       res.Name,
			"workers":    res.Workers,
			"create_avg": res.CreateAvg,
			"update_avg": res.UpdateAvg,
		}).Info("Perf case finished")
		results = append(results, res)
	}
	return results, nil
}

// RunCase runs c on every worker; the first error cancels the others
func (s *Suite) RunCase(ctx context.Context, c Case) (Result, error) {
	limit := s.Parallel
	if limit <= 0 {
		limit = MaxParallel
	}

	measurements := make([]Measurement, s.Workers)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	start := time.Now()
	for i := 0; i < s.Workers; i++ {
		w := &worker{suite: s, caseName: c.Name, index: i}
		g.Go(func() error {
			m, err := c.Run(gctx, w)
			if err != nil {
				return err
			}
			measurements[w.index] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Name: c.Name, Workers: s.Workers, Elapsed: time.Since(start)}
	var createSum, updateSum time.Duration
	for _, m := range measurements {
		createSum += m.Create
		updateSum += m.Update
	}
	if s.Workers > 0 {
		res.CreateAvg = createSum / time.Duration(s.Workers)
		res.UpdateAvg = updateSum / time.Duration(s.Workers)
	}
	return res, nil
}

// worker is the per-goroutine view handed to a case
type worker struct {
	suite    *Suite
	caseName string
	index    int
}

func (w *worker) api() *medaryon.API {
	return w.suite.API
}

// check fails the case unless out has one of codes
func (w *worker) check(step string, out *types.Outcome, err error, codes ...int) error {
	if err != nil {
		return &StepError{Case: w.caseName, Worker: w.index, Step: step, Outcome: out, Err: err}
	}
	if !out.StatusIn(codes...) {
		return &StepError{Case: w.caseName, Worker: w.index, Step: step, Outcome: out}
	}
	return nil
}

// timed runs call and checks its status
func (w *worker) timed(step string, call func() (*types.Outcome, error), codes ...int) (*types.Outcome, time.Duration, error) {
	start := time.Now()
	out, err := call()
	elapsed := time.Since(start)
	return out, elapsed, w.check(step, out, err, codes...)
}

func (w *worker) id(step string, out *types.Outcome, resource string) (extract.Identifier, error) {
	id, err := extract.ID(out.Body(), resource)
	if err != nil {
		return id, &StepError{Case: w.caseName, Worker: w.index, Step: step, Outcome: out, Err: err}
	}
	return id, nil
}

// user is an account created by a worker
type user struct {
	reg   medaryon.Registration
	id    extract.Identifier
	token string
}

func (w *worker) createUser(ctx context.Context, role medaryon.Role) (user, time.Duration, error) {
	u := user{reg: medaryon.Registration{
		Email:     medaryon.RandomEmailFor(role),
		Password:  medaryon.DefaultPassword,
		Role:      role,
		FirstName: titleRole(role),
		LastName:  "Perf",
	}}
	step := "create " + string(role)
	out, elapsed, err := w.timed(step, func() (*types.Outcome, error) { return w.api().Register(ctx, u.reg) }, created...)
	if err != nil {
		return u, elapsed, err
	}
	u.id, err = w.id(step, out, "user")
	return u, elapsed, err
}

func (w *worker) login(ctx context.Context, u *user) error {
	out, err := w.api().Login(ctx, medaryon.Credentials{Email: u.reg.Email, Password: u.reg.Password})
	if err := w.check("login "+string(u.reg.Role), out, err, http.StatusOK); err != nil {
		return err
	}
	token, err := extract.Token(out.Body())
	if err != nil {
		return &StepError{Case: w.caseName, Worker: w.index, Step: "login " + string(u.reg.Role), Outcome: out, Err: err}
	}
	u.token = token
	return nil
}

func titleRole(role medaryon.Role) string {
	s := string(role)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func numericID(id extract.Identifier) (int64, error) {
	n, err := id.Int64()
	if err != nil {
		return 0, fmt.Errorf("id %q: %w", id.String(), err)
	}
	return n, nil
}

func usersCase(ctx context.Context, w *worker) (Measurement, error) {
	var m Measurement
	u, elapsed, err := w.createUser(ctx, medaryon.RolePatient)
	if err != nil {
		return m, err
	}
	m.Create = elapsed
	if err := w.login(ctx, &u); err != nil {
		return m, err
	}

	update := u.reg
	update.FirstName = "Changed"
	update.LastName = fmt.Sprintf("User%d", w.index)
	_, m.Update, err = w.timed("update user", func() (*types.Outcome, error) {
		return w.api().UpdateUser(ctx, u.token, u.id.String(), update)
	}, created...)
	return m, err
}

func (w *worker) doctor(ctx context.Context) (user, int64, error) {
	d, _, err := w.createUser(ctx, medaryon.RoleDoctor)
	if err != nil {
		return d, 0, err
	}
	if err := w.login(ctx, &d); err != nil {
		return d, 0, err
	}
	doctorID, err := numericID(d.id)
	if err != nil {
		return d, 0, &StepError{Case: w.caseName, Worker: w.index, Step: "create doctor", Err: err}
	}
	return d, doctorID, nil
}

func availabilityCase(ctx context.Context, w *worker) (Measurement, error) {
	var m Measurement
	d, doctorID, err := w.doctor(ctx)
	if err != nil {
		return m, err
	}

	slot := medaryon.Slot{DoctorID: doctorID, DayOfWeek: w.index % 7, StartTime: "09:00", EndTime: "17:00"}
	out, elapsed, err := w.timed("create availability", func() (*types.Outcome, error) {
		return w.api().CreateSlot(ctx, d.token, slot)
	}, created...)
	if err != nil {
		return m, err
	}
	m.Create = elapsed
	slotID, err := w.id("create availability", out, "slot")
	if err != nil {
		return m, err
	}

	slot.StartTime, slot.EndTime = "08:00", "16:00"
	_, m.Update, err = w.timed("update availability", func() (*types.Outcome, error) {
		return w.api().UpdateSlot(ctx, d.token, slotID.String(), slot)
	}, created...)
	return m, err
}

func appointmentsCase(ctx context.Context, w *worker) (Measurement, error) {
	var m Measurement
	p, _, err := w.createUser(ctx, medaryon.RolePatient)
	if err != nil {
		return m, err
	}
	patientID, err := numericID(p.id)
	if err != nil {
		return m, &StepError{Case: w.caseName, Worker: w.index, Step: "create patient", Err: err}
	}
	if err := w.login(ctx, &p); err != nil {
		return m, err
	}
	d, doctorID, err := w.doctor(ctx)
	if err != nil {
		return m, err
	}

	base := medaryon.Slot{DoctorID: doctorID, DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}
	out, err := w.api().CreateSlot(ctx, d.token, base)
	if err := w.check("create availability", out, err, created...); err != nil {
		return m, err
	}

	clock := w.suite.Clock
	if clock == nil {
		clock = time.Now
	}
	appt := medaryon.Appointment{
		PatientID:   patientID,
		DoctorID:    doctorID,
		ScheduledAt: medaryon.FutureRFC3339(clock(), 24*time.Hour+time.Duration(w.index)*time.Minute),
		StartTime:   "09:00",
		EndTime:     "09:30",
	}
	out, elapsed, err := w.timed("create appointment", func() (*types.Outcome, error) {
		return w.api().CreateAppointment(ctx, p.token, appt)
	}, created...)
	if err != nil {
		return m, err
	}
	m.Create = elapsed
	apptID, err := w.id("create appointment", out, "appointment")
	if err != nil {
		return m, err
	}

	_, m.Update, err = w.timed("update appointment status", func() (*types.Outcome, error) {
		return w.api().SetAppointmentStatus(ctx, d.token, apptID.String(), medaryon.StatusConfirmed)
	}, created...)
	return m, err
}
