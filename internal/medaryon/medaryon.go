// Package medaryon is a thin typed wrapper over the request helper: one
// method per Medaryon endpoint, each returning the normalized outcome.
//
// The methods never assert on status codes. Callers (the e2e suite, the
// stress workloads, the perf suite) decide what a good outcome is.
package medaryon

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/studiowebux/medprobe/internal/executor"
	"github.com/studiowebux/medprobe/internal/types"
)

// Role is a Medaryon user role
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Appointment statuses accepted by the status endpoint
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Payment statuses
const (
	PaymentPaid    = "paid"
	PaymentPending = "pending"
)

// DefaultPassword is used for every account the tool registers
const DefaultPassword = "P4ssw0rd!"

// Registration is the body of POST /api/users/users and PUT /api/users/{id}
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      Role   `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Credentials is the body of POST /api/users/login
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Slot is a weekly availability window of a doctor
type Slot struct {
	DoctorID  int64  `json:"doctor_id"`
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"` // HH:MM
	EndTime   string `json:"end_time"`   // HH:MM
}

// Appointment is the body of POST /api/appointments
type Appointment struct {
	PatientID   int64  `json:"patient_id"`
	DoctorID    int64  `json:"doctor_id"`
	ScheduledAt string `json:"scheduled_at"` // RFC 3339
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// DoctorReport is the body of POST /api/reports/reports/doctor
type DoctorReport struct {
	AppointmentID    int64  `json:"appointmentId"`
	ReportURL        string `json:"reportUrl"`
	Title            string `json:"title"`
	Notes            string `json:"notes,omitempty"`
	MimeType         string `json:"mimeType"`
	SizeBytes        int64  `json:"sizeBytes"`
	VisibleToPatient bool   `json:"visibleToPatient"`
}

// Payment is the body of POST /api/payments
type Payment struct {
	UserID            int64  `json:"user_id"`
	AppointmentID     int64  `json:"appointment_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Method            string `json:"method"`
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id"`
}

// LogEntry is the body of POST /api/logs
type LogEntry struct {
	ActorID    int64          `json:"actor_id"`
	ActorRole  Role           `json:"actor_role"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Status     string         `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// API calls Medaryon endpoints through an executor.Client
type API struct {
	client *executor.Client
}

// New wraps client
func New(client *executor.Client) *API {
	return &API{client: client}
}

// Client returns the underlying request helper
func (a *API) Client() *executor.Client {
	return a.client
}

func (a *API) do(ctx context.Context, method, path, token string, payload any) (*types.Outcome, error) {
	return a.client.Do(ctx, types.Request{
		Method:  method,
		Path:    path,
		Token:   token,
		Payload: payload,
	})
}

func segment(id string) string {
	return url.PathEscape(id)
}

// Users

// Register creates an account
func (a *API) Register(ctx context.Context, reg Registration) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPost, "/api/users/users", "", reg)
}

// Login exchanges credentials for a bearer token
func (a *API) Login(ctx context.Context, creds Credentials) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPost, "/api/users/login", "", creds)
}

// Me returns the user the token belongs to
func (a *API) Me(ctx context.Context, token string) (*types.Outcome, error) {
	return a.do(ctx, http.MethodGet, "/api/users/me", token, nil)
}

// UpdateUser replaces every field of the user
func (a *API) UpdateUser(ctx context.Context, token, userID string, reg Registration) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPut, "/api/users/"+segment(userID), token, reg)
}

// Availability

// CreateSlot adds a weekly availability slot for a doctor
func (a *API) CreateSlot(ctx context.Context, token string, slot Slot) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPost, "/api/availability", token, slot)
}

// UpdateSlot replaces a slot
func (a *API) UpdateSlot(ctx context.Context, token, slotID string, slot Slot) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPut, "/api/availability/"+segment(slotID), token, slot)
}

// DoctorAvailability lists a doctor's slots. The id goes both in the path
// and in the doctor_id query parameter.
func (a *API) DoctorAvailability(ctx context.Context, token, doctorID string) (*types.Outcome, error) {
	q := url.Values{"doctor_id": {doctorID}}
	return a.do(ctx, http.MethodGet, "/api/availability/doctor/"+segment(doctorID)+"?"+q.Encode(), token, nil)
}

// Appointments

// CreateAppointment books a doctor for a patient
func (a *API) CreateAppointment(ctx context.Context, token string, appt Appointment) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPost, "/api/appointments", token, appt)
}

// GetAppointment fetches one appointment
func (a *API) GetAppointment(ctx context.Context, token, appointmentID string) (*types.Outcome, error) {
	return a.do(ctx, http.MethodGet, "/api/appointments/"+segment(appointmentID), token, nil)
}

// SetAppointmentStatus moves an appointment to status, e.g. "confirmed"
func (a *API) SetAppointmentStatus(ctx context.Context, token, appointmentID, status string) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPut, "/api/appointments/"+segment(appointmentID)+"/status", token,
		map[string]string{"status": status})
}

// Reschedule moves an appointment to newDate (RFC 3339)
func (a *API) Reschedule(ctx context.Context, token, appointmentID, newDate string) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPut, "/api/appointments/"+segment(appointmentID)+"/reschedule", token,
		map[string]string{"new_date": newDate})
}

// Reports

// CreateDoctorReport files a doctor report for an appointment
func (a *API) CreateDoctorReport(ctx context.Context, token string, report DoctorReport) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPost, "/api/reports/reports/doctor", token, report)
}

// ReportsByAppointment lists the reports of an appointment
func (a *API) ReportsByAppointment(ctx context.Context, token, appointmentID string) (*types.Outcome, error) {
	return a.do(ctx, http.MethodGet, "/api/reports/appointments/"+segment(appointmentID)+"/reports", token, nil)
}

// Payments

// CreatePayment records a payment for an appointment
func (a *API) CreatePayment(ctx context.Context, token string, payment Payment) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPost, "/api/payments", token, payment)
}

// MarkPaid sends an empty JSON object, as the endpoint expects a body
func (a *API) MarkPaid(ctx context.Context, token, paymentID string) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPost, "/api/payments/"+segment(paymentID)+"/mark-paid", token, map[string]any{})
}

// UpdatePaymentStatus sets the status of a payment
func (a *API) UpdatePaymentStatus(ctx context.Context, token, paymentID, status string) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPatch, "/api/payments/"+segment(paymentID)+"/status", token,
		map[string]string{"status": status})
}

// Logs

// CreateLog writes an audit entry
func (a *API) CreateLog(ctx context.Context, token string, entry LogEntry) (*types.Outcome, error) {
	return a.do(ctx, http.MethodPost, "/api/logs", token, entry)
}

// ListLogs lists the audit entries of an actor, newest first
func (a *API) ListLogs(ctx context.Context, token string, actorID int64, limit int) (*types.Outcome, error) {
	q := url.Values{}
	q.Set("actor_id", strconv.FormatInt(actorID, 10))
	q.Set("limit", strconv.Itoa(limit))
	return a.do(ctx, http.MethodGet, "/api/logs?"+q.Encode(), token, nil)
}

// Gateway

// Hello calls the gateway liveness endpoint
func (a *API) Hello(ctx context.Context) (*types.Outcome, error) {
	return a.do(ctx, http.MethodGet, "/api/hello", "", nil)
}
