package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"schedmaker/internal/assemble"
	"schedmaker/internal/config"
	"schedmaker/internal/ics"
	appLog "schedmaker/internal/log"
	"schedmaker/internal/model"
	"schedmaker/internal/timetable"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed all:static
var embeddedStatic embed.FS

const maxBodyBytes = 1 << 20

// Server serves the course form, the JSON API and generated calendars.
type Server struct {
	cfg      *config.Config
	store    *timetable.Store
	lastErr  func() error
	mux      *http.ServeMux
	validate *validator.Validate
	page     *template.Template
}

// NewServer constructs a new Server reading timetables from store.
// lastReloadErr, if non-nil, reports the outcome of the most recent reload
// on /health.
func NewServer(cfg *config.Config, store *timetable.Store, lastReloadErr func() error) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		lastErr:  lastReloadErr,
		mux:      http.NewServeMux(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		page:     template.Must(template.New("index.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/index.html")),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) basicAuthEnabled() bool {
	return s.cfg != nil && s.cfg.BasicAuth != nil &&
		s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedmaker", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleFormPage)
	s.mux.HandleFunc("POST /{$}", s.handleFormSubmit)
	s.mux.HandleFunc("GET /api/timetable", s.handleTimetable)
	s.mux.HandleFunc("POST /api/schedule", s.handleSchedule)
	s.mux.HandleFunc("POST /api/preview", s.handlePreview)
	s.mux.Handle("GET /static/", s.staticFileServer())
}

// handleHealth answers 503 until a timetable is loaded. Once one is, it
// stays 200 but names a failed reload, since the previous snapshot is
// still being served.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	var reloadErr error
	if s.lastErr != nil {
		reloadErr = s.lastErr()
	}

	snap := s.store.Current()
	if snap == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		msg := "timetable not loaded"
		if reloadErr != nil {
			msg += ": " + reloadErr.Error()
		}
		_, _ = w.Write([]byte(msg))
		return
	}

	w.WriteHeader(http.StatusOK)
	if reloadErr != nil {
		_, _ = fmt.Fprintf(w, "STALE: serving timetable loaded at %s; last reload failed: %v",
			snap.LoadedAt.Format(time.RFC3339), reloadErr)
		return
	}
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static files not available", http.StatusServiceUnavailable)
		})
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// snapshot returns the loaded timetable or writes 503.
func (s *Server) snapshot(w http.ResponseWriter) (*timetable.Snapshot, bool) {
	snap := s.store.Current()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "timetable not loaded")
		return nil, false
	}
	return snap, true
}

// timetableResponse is the JSON response shape for /api/timetable.
type timetableResponse struct {
	Timezone      string              `json:"timezone"`
	StartDate     string              `json:"start_date"`
	EndDate       string              `json:"end_date"`
	ExcludedDates int                 `json:"excluded_dates"`
	ExtraDays     []extraDayDTO       `json:"extra_days"`
	Slots         []string            `json:"slots"`
	SlotPattern   string              `json:"slot_pattern"`
	Blocks        map[string][]string `json:"blocks"`
	LoadedAt      time.Time           `json:"loaded_at"`
}

type extraDayDTO struct {
	Date    string `json:"date"`
	Follows string `json:"follows"`
}

func (s *Server) handleTimetable(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}

	resp := timetableResponse{
		Timezone:      snap.Term.Location.String(),
		StartDate:     snap.Term.StartDate.Format(time.DateOnly),
		EndDate:       snap.Term.EndDate.Format(time.DateOnly),
		ExcludedDates: len(snap.Term.ExcludedDates),
		ExtraDays:     make([]extraDayDTO, 0, len(snap.Term.ExtraDays)),
		Slots:         snap.Slots.Names(),
		SlotPattern:   snap.Slots.Pattern(),
		Blocks:        make(map[string][]string, len(snap.Slots)),
		LoadedAt:      snap.LoadedAt,
	}
	for _, x := range snap.Term.ExtraDays {
		resp.ExtraDays = append(resp.ExtraDays, extraDayDTO{
			Date:    x.Date.Format(time.DateOnly),
			Follows: x.Weekday.String(),
		})
	}
	for name, blocks := range snap.Slots {
		for _, b := range blocks {
			resp.Blocks[name] = append(resp.Blocks[name], describeBlock(b))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// scheduleRequest is the JSON body of /api/schedule and /api/preview.
type scheduleRequest struct {
	Courses []assemble.CourseEntry `json:"courses" validate:"required,min=1,max=30,dive"`
}

func (s *Server) decodeSchedule(w http.ResponseWriter, r *http.Request) (*scheduleRequest, bool) {
	var req scheduleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return nil, false
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return nil, false
	}
	return &req, true
}

// build assembles and encodes. It writes the error response itself and
// returns ok=false on failure.
func (s *Server) build(w http.ResponseWriter, snap *timetable.Snapshot, entries []assemble.CourseEntry) ([]model.EventDescriptor, []byte, bool) {
	events, err := assemble.Assemble(entries, snap, nil)
	if err != nil {
		var ie *assemble.InputError
		if errors.As(err, &ie) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: ie.Message(), Course: ie.Course})
			return nil, nil, false
		}
		appLog.Error("assemble failed", err)
		writeError(w, http.StatusInternalServerError, "failed to assemble events")
		return nil, nil, false
	}

	body, err := ics.Encode(events, s.encodeOptions(snap))
	if err != nil {
		appLog.Error("ics generation failed", err, "event_count", len(events))
		writeError(w, http.StatusInternalServerError, "Error occurred in generation of ics file")
		return nil, nil, false
	}
	return events, body, true
}

func (s *Server) encodeOptions(snap *timetable.Snapshot) ics.EncodeOptions {
	return ics.EncodeOptions{
		ProductID: s.cfg.ProductID,
		Timezone:  snap.Term.Location.String(),
	}
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	req, ok := s.decodeSchedule(w, r)
	if !ok {
		return
	}
	events, body, ok := s.build(w, snap, req.Courses)
	if !ok {
		return
	}
	appLog.Info("schedule generated", "courses", len(req.Courses), "events", len(events))
	s.writeCalendar(w, body)
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type previewResponse struct {
	Occurrences []occurrenceDTO `json:"occurrences"`
	Rules       []ruleDTO       `json:"rules"`
	RangeStart  time.Time       `json:"range_start"`
	RangeEnd    time.Time       `json:"range_end"`
}

type ruleDTO struct {
	Title    string   `json:"title"`
	Describe string   `json:"describe"`
	Lines    []string `json:"lines"`
}

// handlePreview expands the calendar that /api/schedule would return, by
// parsing the encoded document back.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	req, ok := s.decodeSchedule(w, r)
	if !ok {
		return
	}
	events, body, ok := s.build(w, snap, req.Courses)
	if !ok {
		return
	}

	parsed, err := ics.ParseICS(body)
	if err != nil {
		appLog.Error("preview: parse of generated calendar failed", err)
		writeError(w, http.StatusInternalServerError, "failed to parse generated calendar")
		return
	}

	term := snap.Term
	rangeStart := term.StartDate
	rangeEnd := term.EndDate.AddDate(0, 0, 1)
	res, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		DisplayLocation: term.Location,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
	})
	if err != nil {
		appLog.Error("preview: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	resp := previewResponse{
		Occurrences: make([]occurrenceDTO, 0, len(res.Occurrences)),
		Rules:       make([]ruleDTO, 0, len(events)),
		RangeStart:  rangeStart,
		RangeEnd:    rangeEnd,
	}
	for _, occ := range res.Occurrences {
		resp.Occurrences = append(resp.Occurrences, occurrenceDTO{
			UID:         occ.UID,
			InstanceKey: occ.InstanceKey,
			Summary:     occ.Summary,
			Start:       occ.Start,
			End:         occ.End,
		})
	}
	for _, ev := range events {
		resp.Rules = append(resp.Rules, ruleDTO{
			Title:    ev.Title,
			Describe: ev.Recurrence.Describe(),
			Lines:    ev.Recurrence.Lines(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeCalendar(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+s.cfg.OutputName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type errorResponse struct {
	Error  string `json:"error"`
	Course string `json:"course,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return "invalid field " + fe.Namespace() + ": failed " + fe.Tag()
}

func describeBlock(b timetable.TimeBlock) string {
	days := ""
	for i, wd := range b.Weekdays {
		if i > 0 {
			days += ","
		}
		days += timetable.ShortName(wd)
	}
	return days + " " + b.Start.Format("15:04") + "-" + b.End.Format("15:04")
}
