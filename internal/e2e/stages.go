package e2e

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/studiowebux/medprobe/internal/extract"
	"github.com/studiowebux/medprobe/internal/medaryon"
	"github.com/studiowebux/medprobe/internal/types"
)

// expectStatus fails unless out has one of codes
func expectStatus(out *types.Outcome, err error, codes ...int) error {
	if err != nil {
		return err
	}
	if !out.StatusIn(codes...) {
		return &AssertionError{Message: fmt.Sprintf("expected status %v", codes), Outcome: out}
	}
	return nil
}

func requireID(out *types.Outcome, resource string) (extract.Identifier, error) {
	id, err := extract.ID(out.Body(), resource)
	if errors.Is(err, extract.ErrNotFound) {
		return id, &AssertionError{Message: "no " + resource + " id in response", Outcome: out}
	}
	return id, err
}

// DefaultStages returns the full Medaryon walkthrough in dependency order
func DefaultStages() []Stage {
	return []Stage{
		{Name: "register patient", Run: registerStage(medaryon.RolePatient, "Mario", "Rossi")},
		{Name: "register doctor", Run: registerStage(medaryon.RoleDoctor, "Giulia", "Bianchi")},
		{Name: "login patient", Run: loginStage(medaryon.RolePatient)},
		{Name: "login doctor", Run: loginStage(medaryon.RoleDoctor)},
		{Name: "login with wrong password", Run: wrongPasswordStage},
		{Name: "users me", Run: meStage},
		{Name: "users me again", Run: meAgainStage},
		{Name: "create availability slot", Run: createSlotStage},
		{Name: "get doctor availability", Run: doctorAvailabilityStage},
		{Name: "create appointment", Run: createAppointmentStage},
		{Name: "get appointment", Run: getAppointmentStage},
		{Name: "confirm appointment", Run: confirmAppointmentStage},
		{Name: "reschedule appointment", Run: rescheduleStage},
		{Name: "create doctor report", Run: doctorReportStage},
		{Name: "list reports by appointment", Run: reportsByAppointmentStage},
		{Name: "create payment", Run: createPaymentStage},
		{Name: "mark payment paid", Run: markPaidStage},
		{Name: "update payment status", Run: updatePaymentStatusStage},
		{Name: "create log", Run: createLogStage},
		{Name: "list logs", Run: listLogsStage},
	}
}

func (f *Fixture) account(role medaryon.Role) *Account {
	if role == medaryon.RoleDoctor {
		return &f.Doctor
	}
	return &f.Patient
}

func registerStage(role medaryon.Role, first, last string) func(context.Context, *Fixture) error {
	return func(ctx context.Context, f *Fixture) error {
		reg := medaryon.NewRegistration(role, first, last)
		out, err := f.Observe(f.API.Register(ctx, reg))
		if err := expectStatus(out, err, 200, 201); err != nil {
			return err
		}
		id, err := requireID(out, "user")
		if err != nil {
			return err
		}
		*f.account(role) = Account{Role: role, ID: id, Email: reg.Email, Password: reg.Password}
		return nil
	}
}

func loginStage(role medaryon.Role) func(context.Context, *Fixture) error {
	return func(ctx context.Context, f *Fixture) error {
		acc := f.account(role)
		out, err := f.Observe(f.API.Login(ctx, medaryon.Credentials{Email: acc.Email, Password: acc.Password}))
		if err := expectStatus(out, err, 200); err != nil {
			return err
		}
		token, err := extract.Token(out.Body())
		if err != nil {
			return &AssertionError{Message: "no bearer token in response", Outcome: out}
		}
		acc.Token = token
		return nil
	}
}

func wrongPasswordStage(ctx context.Context, f *Fixture) error {
	creds := medaryon.Credentials{Email: f.Patient.Email, Password: f.Patient.Password + "-wrong"}
	out, err := f.Observe(f.API.Login(ctx, creds))
	if err != nil {
		return err
	}
	if out.IsSuccess() {
		return &AssertionError{Message: "login with a wrong password succeeded", Outcome: out}
	}
	if out.ErrorText() == "" {
		return &AssertionError{Message: "rejected login has no error message", Outcome: out}
	}
	return nil
}

func meStage(ctx context.Context, f *Fixture) error {
	out, err := f.Observe(f.API.Me(ctx, f.Patient.Token))
	if err := expectStatus(out, err, 200); err != nil {
		return err
	}
	if _, ok := out.Map(); !ok {
		return &AssertionError{Message: "expected a JSON object", Outcome: out}
	}
	f.MeBody = out.Body()
	return nil
}

func meAgainStage(ctx context.Context, f *Fixture) error {
	out, err := f.Observe(f.API.Me(ctx, f.Patient.Token))
	if err := expectStatus(out, err, 200); err != nil {
		return err
	}
	if !reflect.DeepEqual(out.Body(), f.MeBody) {
		return &AssertionError{Message: "response differs from the previous call", Outcome: out}
	}
	return nil
}

func createSlotStage(ctx context.Context, f *Fixture) error {
	doctorID, err := f.Doctor.NumericID()
	if err != nil {
		return err
	}
	slot := medaryon.Slot{DoctorID: doctorID, DayOfWeek: 2, StartTime: "09:00", EndTime: "12:00"}
	out, err := f.Observe(f.API.CreateSlot(ctx, f.Doctor.Token, slot))
	if err := expectStatus(out, err, 200, 201); err != nil {
		return err
	}
	// the slot id is informative only
	if id, err := extract.ID(out.Body(), "slot"); err == nil {
		f.SlotID = id
	}
	return nil
}

func doctorAvailabilityStage(ctx context.Context, f *Fixture) error {
	out, err := f.Observe(f.API.DoctorAvailability(ctx, f.Patient.Token, f.Doctor.ID.String()))
	return expectStatus(out, err, 200)
}

func createAppointmentStage(ctx context.Context, f *Fixture) error {
	patientID, err := f.Patient.NumericID()
	if err != nil {
		return err
	}
	doctorID, err := f.Doctor.NumericID()
	if err != nil {
		return err
	}

	appt := medaryon.Appointment{
		PatientID:   patientID,
		DoctorID:    doctorID,
		ScheduledAt: medaryon.FutureRFC3339(f.now(), 24*time.Hour),
		StartTime:   "09:00",
		EndTime:     "09:30",
		Notes:       "Controllo",
	}
	out, err := f.Observe(f.API.CreateAppointment(ctx, f.Patient.Token, appt))
	if err := expectStatus(out, err, 200, 201); err != nil {
		return err
	}
	id, err := requireID(out, "appointment")
	if err != nil {
		return err
	}
	f.Appointment = appt
	f.AppointmentID = id
	return nil
}

// appointmentField looks a field up at the top level, then under an
// "appointment" or "data" envelope.
func appointmentField(body any, field string) (any, bool) {
	for _, expr := range []string{field, "appointment." + field, "data." + field} {
		if v, err := extract.Lookup(body, expr); err == nil {
			return v, true
		}
	}
	return nil, false
}

func sameNumber(got any, want int64) bool {
	switch v := got.(type) {
	case float64:
		return v == math.Trunc(v) && int64(v) == want
	case string:
		return v == fmt.Sprint(want)
	}
	return false
}

func sameInstant(got any, want string) bool {
	s, ok := got.(string)
	if !ok {
		return false
	}
	tg, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return false
	}
	tw, err := time.Parse(time.RFC3339, want)
	return err == nil && tg.Equal(tw)
}

func getAppointmentStage(ctx context.Context, f *Fixture) error {
	out, err := f.Observe(f.API.GetAppointment(ctx, f.Patient.Token, f.AppointmentID.String()))
	if err := expectStatus(out, err, 200); err != nil {
		return err
	}

	body := out.Body()
	mismatch := func(field string) error {
		return &AssertionError{Message: "field " + field + " does not match the submitted appointment", Outcome: out}
	}

	if v, ok := appointmentField(body, "patient_id"); !ok || !sameNumber(v, f.Appointment.PatientID) {
		return mismatch("patient_id")
	}
	if v, ok := appointmentField(body, "doctor_id"); !ok || !sameNumber(v, f.Appointment.DoctorID) {
		return mismatch("doctor_id")
	}
	// the API may return a different precision or zone for the same instant
	if v, ok := appointmentField(body, "scheduled_at"); !ok || !sameInstant(v, f.Appointment.ScheduledAt) {
		return mismatch("scheduled_at")
	}
	if v, ok := appointmentField(body, "notes"); !ok || v != f.Appointment.Notes {
		return mismatch("notes")
	}
	return nil
}

func confirmAppointmentStage(ctx context.Context, f *Fixture) error {
	out, err := f.Observe(f.API.SetAppointmentStatus(ctx, f.Doctor.Token, f.AppointmentID.String(), medaryon.StatusConfirmed))
	return expectStatus(out, err, 200)
}

func rescheduleStage(ctx context.Context, f *Fixture) error {
	newDate := medaryon.FutureRFC3339(f.now(), 48*time.Hour)
	out, err := f.Observe(f.API.Reschedule(ctx, f.Doctor.Token, f.AppointmentID.String(), newDate))
	return expectStatus(out, err, 200)
}

func doctorReportStage(ctx context.Context, f *Fixture) error {
	apptID, err := f.AppointmentID.Int64()
	if err != nil {
		return fmt.Errorf("appointment id %q: %w", f.AppointmentID.String(), err)
	}
	report := medaryon.DoctorReport{
		AppointmentID:    apptID,
		ReportURL:        medaryon.ReportURL(),
		Title:            "Referto visita",
		Notes:            "Esito ok",
		MimeType:         "application/pdf",
		SizeBytes:        12345,
		VisibleToPatient: true,
	}
	out, err := f.Observe(f.API.CreateDoctorReport(ctx, f.Doctor.Token, report))
	if err := expectStatus(out, err, 200, 201); err != nil {
		return err
	}
	id, err := requireID(out, "report")
	if err != nil {
		return err
	}
	f.ReportIDs = append(f.ReportIDs, id)
	return nil
}

func reportsByAppointmentStage(ctx context.Context, f *Fixture) error {
	out, err := f.Observe(f.API.ReportsByAppointment(ctx, f.Patient.Token, f.AppointmentID.String()))
	return expectStatus(out, err, 200)
}

func createPaymentStage(ctx context.Context, f *Fixture) error {
	patientID, err := f.Patient.NumericID()
	if err != nil {
		return err
	}
	apptID, err := f.AppointmentID.Int64()
	if err != nil {
		return fmt.Errorf("appointment id %q: %w", f.AppointmentID.String(), err)
	}
	payment := medaryon.Payment{
		UserID:            patientID,
		AppointmentID:     apptID,
		Amount:            "50.00",
		Currency:          "EUR",
		Method:            "card",
		Provider:          "test",
		ProviderPaymentID: medaryon.ProviderPaymentID(),
	}
	out, err := f.Observe(f.API.CreatePayment(ctx, f.Patient.Token, payment))
	if err := expectStatus(out, err, 200, 201); err != nil {
		return err
	}
	id, err := requireID(out, "payment")
	if err != nil {
		return err
	}
	f.PaymentID = id
	return nil
}

func markPaidStage(ctx context.Context, f *Fixture) error {
	out, err := f.Observe(f.API.MarkPaid(ctx, f.Doctor.Token, f.PaymentID.String()))
	return expectStatus(out, err, 200)
}

func updatePaymentStatusStage(ctx context.Context, f *Fixture) error {
	out, err := f.Observe(f.API.UpdatePaymentStatus(ctx, f.Doctor.Token, f.PaymentID.String(), medaryon.PaymentPaid))
	return expectStatus(out, err, 200)
}

func createLogStage(ctx context.Context, f *Fixture) error {
	doctorID, err := f.Doctor.NumericID()
	if err != nil {
		return err
	}
	apptID, err := f.AppointmentID.Int64()
	if err != nil {
		return fmt.Errorf("appointment id %q: %w", f.AppointmentID.String(), err)
	}
	entry := medaryon.LogEntry{
		ActorID:    doctorID,
		ActorRole:  medaryon.RoleDoctor,
		Action:     "appointment.update",
		EntityType: "appointment",
		EntityID:   apptID,
		Status:     "ok",
		Metadata:   map[string]any{"info": "status updated"},
	}
	out, err := f.Observe(f.API.CreateLog(ctx, f.Doctor.Token, entry))
	if err := expectStatus(out, err, 200, 201); err != nil {
		return err
	}
	if id, err := extract.ID(out.Body(), "log"); err == nil {
		f.LastLogID = id
	}
	return nil
}

func listLogsStage(ctx context.Context, f *Fixture) error {
	doctorID, err := f.Doctor.NumericID()
	if err != nil {
		return err
	}
	out, err := f.Observe(f.API.ListLogs(ctx, f.Doctor.Token, doctorID, 10))
	return expectStatus(out, err, 200)
}
