package mock

import "time"

// Config represents the fake server configuration
type Config struct {
	Port    int    `json:"port" yaml:"port"`       // Server port (default: 3000)
	Host    string `json:"host" yaml:"host"`       // Server host (default: localhost)
	Logging bool   `json:"logging" yaml:"logging"` // Keep a request log
	// LatencyMS delays every response, to make local stress runs less trivial
	LatencyMS int `json:"latencyMs,omitempty" yaml:"latencyMs,omitempty"`
	// Seed creates these accounts at startup
	Seed []SeedUser `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// SeedUser is an account present before the first request
type SeedUser struct {
	Email     string `json:"email" yaml:"email"`
	Password  string `json:"password" yaml:"password"`
	Role      string `json:"role" yaml:"role"`
	FirstName string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
}

// RequestLog represents a logged request
type RequestLog struct {
	Timestamp time.Time         `json:"timestamp"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	Route     string            `json:"route"`
	Status    int               `json:"status"`
	Duration  time.Duration     `json:"duration"`
}

type user struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Password  string `json:"-"`
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type slot struct {
	ID        int64  `json:"id"`
	DoctorID  int64  `json:"doctor_id"`
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type appointment struct {
	ID          int64  `json:"id"`
	PatientID   int64  `json:"patient_id"`
	DoctorID    int64  `json:"doctor_id"`
	ScheduledAt string `json:"scheduled_at"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Notes       string `json:"notes,omitempty"`
	Status      string `json:"status"`
}

type report struct {
	ID               int64  `json:"id"`
	AppointmentID    int64  `json:"appointmentId"`
	ReportURL        string `json:"reportUrl"`
	Title            string `json:"title"`
	Notes            string `json:"notes,omitempty"`
	MimeType         string `json:"mimeType"`
	SizeBytes        int64  `json:"sizeBytes"`
	VisibleToPatient bool   `json:"visibleToPatient"`
}

type payment struct {
	ID                int64  `json:"id"`
	UserID            int64  `json:"user_id"`
	AppointmentID     int64  `json:"appointment_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Method            string `json:"method"`
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Status            string `json:"status"`
	PaidAt            string `json:"paid_at,omitempty"`
}

type logEntry struct {
	ID         int64          `json:"id"`
	ActorID    int64          `json:"actor_id"`
	ActorRole  string         `json:"actor_role"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Status     string         `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// apiError mirrors the gateway's error body
type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
}
