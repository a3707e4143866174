package mock

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const minPasswordLength = 6

var validRoles = map[string]bool{"patient": true, "doctor": true, "admin": true}

var validAppointmentStatuses = map[string]bool{
	"requested": true, "confirmed": true, "cancelled": true, "completed": true,
}

var validPaymentStatuses = map[string]bool{
	"pending": true, "paid": true, "failed": true, "refunded": true,
}

type store struct {
	mu           sync.Mutex
	nextID       int64
	users        map[int64]*user
	emails       map[string]int64
	tokens       map[string]int64
	slots        map[int64]*slot
	appointments map[int64]*appointment
	reports      map[int64]*report
	payments     map[int64]*payment
	logs         []*logEntry
}

func newStore() *store {
	return &store{
		users:        make(map[int64]*user),
		emails:       make(map[string]int64),
		tokens:       make(map[string]int64),
		slots:        make(map[int64]*slot),
		appointments: make(map[int64]*appointment),
		reports:      make(map[int64]*report),
		payments:     make(map[int64]*payment),
	}
}

// id must be called with mu held
func (st *store) id() int64 {
	st.nextID++
	return st.nextID
}

// addUser returns false when the e-mail is already registered
func (st *store) addUser(email, password, role, first, last string) (user, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	key := strings.ToLower(email)
	if _, exists := st.emails[key]; exists {
		return user{}, false
	}
	u := &user{ID: st.id(), Email: email, Password: password, Role: role, FirstName: first, LastName: last}
	st.users[u.ID] = u
	st.emails[key] = u.ID
	return *u, true
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/hello", s.hello)

	mux.HandleFunc("POST /api/users/users", s.register)
	mux.HandleFunc("POST /api/users/login", s.login)
	mux.HandleFunc("GET /api/users/me", s.authed(s.me))
	mux.HandleFunc("PUT /api/users/{id}", s.authed(s.updateUser))

	mux.HandleFunc("POST /api/availability", s.authed(s.createSlot))
	mux.HandleFunc("PUT /api/availability/{id}", s.authed(s.updateSlot))
	mux.HandleFunc("GET /api/availability/doctor/{id}", s.authed(s.doctorAvailability))

	mux.HandleFunc("POST /api/appointments", s.authed(s.createAppointment))
	mux.HandleFunc("GET /api/appointments/{id}", s.authed(s.getAppointment))
	mux.HandleFunc("PUT /api/appointments/{id}/status", s.authed(s.setAppointmentStatus))
	mux.HandleFunc("PUT /api/appointments/{id}/reschedule", s.authed(s.reschedule))

	mux.HandleFunc("POST /api/reports/reports/doctor", s.authed(s.createDoctorReport))
	mux.HandleFunc("GET /api/reports/appointments/{id}/reports", s.authed(s.reportsByAppointment))

	mux.HandleFunc("POST /api/payments", s.authed(s.createPayment))
	mux.HandleFunc("POST /api/payments/{id}/mark-paid", s.authed(s.markPaid))
	mux.HandleFunc("PATCH /api/payments/{id}/status", s.authed(s.updatePaymentStatus))

	mux.HandleFunc("POST /api/logs", s.authed(s.createLog))
	mux.HandleFunc("GET /api/logs", s.authed(s.listLogs))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, name, typ, message string) {
	writeJSON(w, status, apiError{Name: name, Message: message, Code: status, Type: typ})
}

func validationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "ValidationError", "VALIDATION_FAILED", message)
}

func notFound(w http.ResponseWriter, resource, id string) {
	writeError(w, http.StatusNotFound, "MoleculerError", "NOT_FOUND", resource+" with ID "+id+" not found")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		validationError(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		validationError(w, "invalid id: "+raw)
		return 0, false
	}
	return id, true
}

type authedHandler func(w http.ResponseWriter, r *http.Request, caller user)

// authed resolves the bearer token to a user before calling next
func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "UnAuthorizedError", "NO_TOKEN", "Token is missing")
			return
		}

		s.store.mu.Lock()
		uid, found := s.store.tokens[token]
		var caller user
		if found {
			caller = *s.store.users[uid]
		}
		s.store.mu.Unlock()

		if !found {
			writeError(w, http.StatusUnauthorized, "UnAuthorizedError", "INVALID_TOKEN", "Token is invalid")
			return
		}
		next(w, r, caller)
	}
}

func (s *Server) hello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Hello, world!",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (reg registration) validate() string {
	switch {
	case !strings.Contains(reg.Email, "@"):
		return "invalid email"
	case len(reg.Password) < minPasswordLength:
		return "password must have at least 6 characters"
	case !validRoles[reg.Role]:
		return "Invalid role: " + reg.Role
	}
	return ""
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var reg registration
	if !decodeBody(w, r, &reg) {
		return
	}
	if msg := reg.validate(); msg != "" {
		validationError(w, msg)
		return
	}

	u, ok := s.store.addUser(reg.Email, reg.Password, reg.Role, reg.FirstName, reg.LastName)
	if !ok {
		writeError(w, http.StatusConflict, "MoleculerError", "CONFLICT", "Email already registered")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &creds) {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	uid, ok := s.store.emails[strings.ToLower(creds.Email)]
	if !ok || s.store.users[uid].Password != creds.Password {
		writeError(w, http.StatusBadRequest, "ValidationError", "LOGIN_FAILED", "Invalid email or password")
		return
	}

	token := uuid.NewString()
	s.store.tokens[token] = uid
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": s.store.users[uid]})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request, caller user) {
	writeJSON(w, http.StatusOK, caller)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request, caller user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if id != caller.ID && caller.Role != "admin" {
		writeError(w, http.StatusForbidden, "MoleculerClientError", "FORBIDDEN", "You are not allowed to perform this action")
		return
	}

	var reg registration
	if !decodeBody(w, r, &reg) {
		return
	}
	if msg := reg.validate(); msg != "" {
		validationError(w, msg)
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	u, found := s.store.users[id]
	if !found {
		writeError(w, http.StatusNotFound, "MoleculerError", "USER_NOT_FOUND", "User with ID "+r.PathValue("id")+" not found")
		return
	}
	if other, taken := s.store.emails[strings.ToLower(reg.Email)]; taken && other != id {
		writeError(w, http.StatusConflict, "MoleculerError", "CONFLICT", "Email already registered")
		return
	}

	delete(s.store.emails, strings.ToLower(u.Email))
	u.Email, u.Password, u.Role, u.FirstName, u.LastName = reg.Email, reg.Password, reg.Role, reg.FirstName, reg.LastName
	s.store.emails[strings.ToLower(u.Email)] = u.ID
	writeJSON(w, http.StatusOK, u)
}

func validClock(v string) bool {
	t, err := time.Parse("15:04", v)
	return err == nil && t.Format("15:04") == v
}

func (sl slot) validate() string {
	switch {
	case sl.DoctorID <= 0:
		return "doctor_id is required"
	case sl.DayOfWeek < 0 || sl.DayOfWeek > 6:
		return "day_of_week must be between 0 and 6"
	case !validClock(sl.StartTime) || !validClock(sl.EndTime):
		return "start_time and end_time must be HH:MM"
	case sl.StartTime >= sl.EndTime:
		return "start_time must be before end_time"
	}
	return ""
}

func (s *Server) createSlot(w http.ResponseWriter, r *http.Request, caller user) {
	var in slot
	if !decodeBody(w, r, &in) {
		return
	}
	if msg := in.validate(); msg != "" {
		validationError(w, msg)
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if d, ok := s.store.users[in.DoctorID]; !ok || d.Role != "doctor" {
		validationError(w, "doctor_id does not reference a doctor")
		return
	}
	in.ID = s.store.id()
	s.store.slots[in.ID] = &in
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) updateSlot(w http.ResponseWriter, r *http.Request, caller user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in slot
	if !decodeBody(w, r, &in) {
		return
	}
	if msg := in.validate(); msg != "" {
		validationError(w, msg)
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	current, found := s.store.slots[id]
	if !found {
		notFound(w, "Availability", r.PathValue("id"))
		return
	}
	in.ID = current.ID
	*current = in
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) doctorAvailability(w http.ResponseWriter, r *http.Request, caller user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	out := make([]slot, 0)
	for _, sl := range s.store.slots {
		if sl.DoctorID == id {
			out = append(out, *sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createAppointment(w http.ResponseWriter, r *http.Request, caller user) {
	var in appointment
	if !decodeBody(w, r, &in) {
		return
	}
	if in.PatientID <= 0 || in.DoctorID <= 0 {
		validationError(w, "patient_id and doctor_id are required")
		return
	}
	if _, err := time.Parse(time.RFC3339, in.ScheduledAt); err != nil {
		validationError(w, "scheduled_at must be an RFC 3339 timestamp")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, ok := s.store.users[in.PatientID]; !ok {
		validationError(w, "patient_id does not reference a user")
		return
	}
	if _, ok := s.store.users[in.DoctorID]; !ok {
		validationError(w, "doctor_id does not reference a user")
		return
	}
	for _, other := range s.store.appointments {
		if other.DoctorID == in.DoctorID && sameInstant(other.ScheduledAt, in.ScheduledAt) {
			writeError(w, http.StatusConflict, "MoleculerError", "CONFLICT", "Doctor already booked at "+in.ScheduledAt)
			return
		}
	}
	in.ID = s.store.id()
	in.Status = "requested"
	s.store.appointments[in.ID] = &in
	writeJSON(w, http.StatusCreated, in)
}

func sameInstant(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	return errA == nil && errB == nil && ta.Equal(tb)
}

// lookupAppointment must be called with mu held
func (s *Server) lookupAppointment(w http.ResponseWriter, r *http.Request) *appointment {
	id, ok := pathID(w, r)
	if !ok {
		return nil
	}
	a, found := s.store.appointments[id]
	if !found {
		notFound(w, "Appointment", r.PathValue("id"))
		return nil
	}
	return a
}

func (s *Server) getAppointment(w http.ResponseWriter, r *http.Request, caller user) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if a := s.lookupAppointment(w, r); a != nil {
		writeJSON(w, http.StatusOK, a)
	}
}

func (s *Server) setAppointmentStatus(w http.ResponseWriter, r *http.Request, caller user) {
	var in struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if !validAppointmentStatuses[in.Status] {
		validationError(w, "invalid status: "+in.Status)
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if a := s.lookupAppointment(w, r); a != nil {
		a.Status = in.Status
		writeJSON(w, http.StatusOK, a)
	}
}

func (s *Server) reschedule(w http.ResponseWriter, r *http.Request, caller user) {
	var in struct {
		NewDate string `json:"new_date"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if _, err := time.Parse(time.RFC3339, in.NewDate); err != nil {
		validationError(w, "new_date must be an RFC 3339 timestamp")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if a := s.lookupAppointment(w, r); a != nil {
		a.ScheduledAt = in.NewDate
		writeJSON(w, http.StatusOK, a)
	}
}

func (s *Server) createDoctorReport(w http.ResponseWriter, r *http.Request, caller user) {
	if caller.Role != "doctor" {
		writeError(w, http.StatusForbidden, "MoleculerClientError", "FORBIDDEN", "Only doctors can upload reports")
		return
	}
	var in report
	if !decodeBody(w, r, &in) {
		return
	}
	if in.ReportURL == "" || in.Title == "" {
		validationError(w, "reportUrl and title are required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, ok := s.store.appointments[in.AppointmentID]; !ok {
		notFound(w, "Appointment", strconv.FormatInt(in.AppointmentID, 10))
		return
	}
	in.ID = s.store.id()
	s.store.reports[in.ID] = &in
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) reportsByAppointment(w http.ResponseWriter, r *http.Request, caller user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	out := make([]report, 0)
	for _, rep := range s.store.reports {
		if rep.AppointmentID != id {
			continue
		}
		if caller.Role == "patient" && !rep.VisibleToPatient {
			continue
		}
		out = append(out, *rep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request, caller user) {
	var in payment
	if !decodeBody(w, r, &in) {
		return
	}
	if _, err := strconv.ParseFloat(in.Amount, 64); err != nil {
		validationError(w, "amount must be a decimal string")
		return
	}
	if in.Currency == "" || in.Method == "" {
		validationError(w, "currency and method are required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, ok := s.store.appointments[in.AppointmentID]; !ok {
		notFound(w, "Appointment", strconv.FormatInt(in.AppointmentID, 10))
		return
	}
	in.ID = s.store.id()
	in.Status = "pending"
	in.PaidAt = ""
	s.store.payments[in.ID] = &in
	writeJSON(w, http.StatusCreated, in)
}

// lookupPayment must be called with mu held
func (s *Server) lookupPayment(w http.ResponseWriter, r *http.Request) *payment {
	id, ok := pathID(w, r)
	if !ok {
		return nil
	}
	p, found := s.store.payments[id]
	if !found {
		notFound(w, "Payment", r.PathValue("id"))
		return nil
	}
	return p
}

func (s *Server) markPaid(w http.ResponseWriter, r *http.Request, caller user) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if p := s.lookupPayment(w, r); p != nil {
		p.Status = "paid"
		p.PaidAt = time.Now().UTC().Format(time.RFC3339)
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) updatePaymentStatus(w http.ResponseWriter, r *http.Request, caller user) {
	var in struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if !validPaymentStatuses[in.Status] {
		validationError(w, "invalid status: "+in.Status)
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if p := s.lookupPayment(w, r); p != nil {
		p.Status = in.Status
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) createLog(w http.ResponseWriter, r *http.Request, caller user) {
	var in logEntry
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Action == "" || in.EntityType == "" {
		validationError(w, "action and entity_type are required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	in.ID = s.store.id()
	in.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	s.store.logs = append(s.store.logs, &in)
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request, caller user) {
	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			validationError(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	var actor int64
	if raw := q.Get("actor_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			validationError(w, "actor_id must be an integer")
			return
		}
		actor = n
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	out := make([]logEntry, 0, limit)
	for i := len(s.store.logs) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.store.logs[i]
		if actor != 0 && e.ActorID != actor {
			continue
		}
		out = append(out, *e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out, "total": len(out)})
}
