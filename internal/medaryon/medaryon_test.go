package medaryon

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/medprobe/internal/executor"
	"github.com/studiowebux/medprobe/internal/extract"
	"github.com/studiowebux/medprobe/internal/mock"
	"github.com/studiowebux/medprobe/internal/types"
)

func newTestAPI(t *testing.T) (*API, *mock.Server) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv := mock.NewServer(&mock.Config{Logging: true}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := executor.NewClient(executor.ClientConfig{BaseURL: ts.URL, Logger: logger})
	require.NoError(t, err)
	return New(client), srv
}

func mustID(t *testing.T, out *types.Outcome, resource string) extract.Identifier {
	t.Helper()
	id, err := extract.ID(out.Body(), resource)
	require.NoError(t, err, out.String())
	return id
}

func mustInt(t *testing.T, id extract.Identifier) int64 {
	t.Helper()
	n, err := id.Int64()
	require.NoError(t, err)
	return n
}

type account struct {
	id    extract.Identifier
	token string
}

func registerAndLogin(t *testing.T, api *API, role Role) account {
	t.Helper()
	ctx := context.Background()

	reg := NewRegistration(role, "Test", "User")
	out, err := api.Register(ctx, reg)
	require.NoError(t, err)
	require.True(t, out.StatusIn(200, 201), out.String())

	login, err := api.Login(ctx, Credentials{Email: reg.Email, Password: reg.Password})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, login.Status, login.String())
	token, err := extract.Token(login.Body())
	require.NoError(t, err)

	return account{id: mustID(t, out, "user"), token: token}
}

func TestAPI_RegisterAndLogin(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	reg := NewRegistration(RolePatient, "Mario", "Rossi")
	out, err := api.Register(ctx, reg)
	require.NoError(t, err)
	assert.True(t, out.StatusIn(200, 201))
	assert.False(t, mustID(t, out, "user").IsZero())

	login, err := api.Login(ctx, Credentials{Email: reg.Email, Password: reg.Password})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, login.Status)
	token, err := extract.Token(login.Body())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestAPI_LoginWrongPassword(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	reg := NewRegistration(RolePatient, "Mario", "Rossi")
	_, err := api.Register(ctx, reg)
	require.NoError(t, err)

	out, err := api.Login(ctx, Credentials{Email: reg.Email, Password: "not-the-password"})
	require.NoError(t, err)
	assert.False(t, out.IsSuccess())
	assert.NotEmpty(t, out.ErrorText())
}

func TestAPI_MeIsIdempotent(t *testing.T) {
	api, _ := newTestAPI(t)
	patient := registerAndLogin(t, api, RolePatient)

	first, err := api.Me(context.Background(), patient.token)
	require.NoError(t, err)
	second, err := api.Me(context.Background(), patient.token)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, first.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Body(), second.Body())
}

func TestAPI_AppointmentLifecycle(t *testing.T) {
	api, srv := newTestAPI(t)
	ctx := context.Background()
	now := time.Now()

	patient := registerAndLogin(t, api, RolePatient)
	doctor := registerAndLogin(t, api, RoleDoctor)
	doctorID := mustInt(t, doctor.id)

	slotOut, err := api.CreateSlot(ctx, doctor.token, Slot{DoctorID: doctorID, DayOfWeek: 2, StartTime: "09:00", EndTime: "12:00"})
	require.NoError(t, err)
	require.True(t, slotOut.StatusIn(200, 201), slotOut.String())
	slotID := mustID(t, slotOut, "slot")

	out, err := api.UpdateSlot(ctx, doctor.token, slotID.String(), Slot{DoctorID: doctorID, DayOfWeek: 2, StartTime: "08:00", EndTime: "16:00"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status, out.String())

	out, err = api.DoctorAvailability(ctx, patient.token, doctor.id.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)
	slots, ok := out.Body().([]any)
	require.True(t, ok)
	assert.Len(t, slots, 1)

	appt := Appointment{
		PatientID:   mustInt(t, patient.id),
		DoctorID:    doctorID,
		ScheduledAt: FutureRFC3339(now, 24*time.Hour),
		StartTime:   "09:00",
		EndTime:     "09:30",
		Notes:       "Controllo",
	}
	out, err = api.CreateAppointment(ctx, patient.token, appt)
	require.NoError(t, err)
	require.True(t, out.StatusIn(200, 201), out.String())
	apptID := mustID(t, out, "appointment")

	out, err = api.GetAppointment(ctx, patient.token, apptID.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)
	notes, err := extract.Lookup(out.Body(), "notes")
	require.NoError(t, err)
	assert.Equal(t, "Controllo", notes)

	out, err = api.SetAppointmentStatus(ctx, doctor.token, apptID.String(), StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status, out.String())

	newDate := FutureRFC3339(now, 48*time.Hour)
	out, err = api.Reschedule(ctx, doctor.token, apptID.String(), newDate)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status, out.String())
	scheduled, _ := extract.Lookup(out.Body(), "scheduled_at")
	assert.Equal(t, newDate, scheduled)

	apptNum := mustInt(t, apptID)
	out, err = api.CreateDoctorReport(ctx, doctor.token, DoctorReport{
		AppointmentID: apptNum, ReportURL: ReportURL(), Title: "Referto visita",
		MimeType: "application/pdf", SizeBytes: 12345, VisibleToPatient: true,
	})
	require.NoError(t, err)
	assert.True(t, out.StatusIn(200, 201), out.String())

	out, err = api.ReportsByAppointment(ctx, patient.token, apptID.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)

	out, err = api.CreatePayment(ctx, patient.token, Payment{
		UserID: mustInt(t, patient.id), AppointmentID: apptNum, Amount: "50.00",
		Currency: "EUR", Method: "card", Provider: "test", ProviderPaymentID: ProviderPaymentID(),
	})
	require.NoError(t, err)
	require.True(t, out.StatusIn(200, 201), out.String())
	paymentID := mustID(t, out, "payment")

	out, err = api.MarkPaid(ctx, doctor.token, paymentID.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status, out.String())

	out, err = api.UpdatePaymentStatus(ctx, doctor.token, paymentID.String(), PaymentPaid)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status, out.String())

	out, err = api.CreateLog(ctx, doctor.token, LogEntry{
		ActorID: doctorID, ActorRole: RoleDoctor, Action: "appointment.update",
		EntityType: "appointment", EntityID: apptNum, Status: "ok",
		Metadata: map[string]any{"info": "status updated"},
	})
	require.NoError(t, err)
	assert.True(t, out.StatusIn(200, 201), out.String())

	out, err = api.ListLogs(ctx, doctor.token, doctorID, 10)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)

	var sawQuery bool
	for _, l := range srv.GetLogs() {
		if strings.HasPrefix(l.Path, "/api/availability/doctor/") {
			assert.Contains(t, l.Path, "?doctor_id="+doctor.id.String())
			sawQuery = true
		}
	}
	assert.True(t, sawQuery)
}

func TestAPI_PathSegmentsAreEscaped(t *testing.T) {
	api, srv := newTestAPI(t)
	patient := registerAndLogin(t, api, RolePatient)

	out, err := api.GetAppointment(context.Background(), patient.token, "a b/c")
	require.NoError(t, err)
	assert.NotEqual(t, http.StatusOK, out.Status)

	logs := srv.GetLogs()
	assert.Contains(t, logs[len(logs)-1].Path, "%2F")
}

func TestAPI_Hello(t *testing.T) {
	api, _ := newTestAPI(t)
	out, err := api.Hello(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)
	msg, err := extract.Lookup(out.Body(), "message")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", msg)
}

func TestHelpers(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^u\+[0-9a-f]{10}@test\.local$`), RandomEmail())
	assert.Regexp(t, regexp.MustCompile(`^d\+[0-9a-f]{10}@test\.local$`), RandomEmailFor(RoleDoctor))
	assert.Regexp(t, regexp.MustCompile(`^pay_[0-9a-f]{12}$`), ProviderPaymentID())
	assert.NotEqual(t, RandomEmail(), RandomEmail())

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2026-01-02T09:00:00Z", FutureRFC3339(now, 24*time.Hour))

	start, end := ClockRange(8)
	assert.Equal(t, "08:00", start)
	assert.Equal(t, "09:00", end)
}
