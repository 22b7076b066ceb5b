package web

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"schedmaker/internal/assemble"
	"schedmaker/internal/form"
	"schedmaker/internal/ics"
	appLog "schedmaker/internal/log"
	"schedmaker/internal/timetable"
)

const actionResize = "resize"

var templateFuncs = template.FuncMap{
	"nameField":   form.NameField,
	"slotField":   form.SlotField,
	"customField": form.CustomField,
	"startField":  form.StartField,
	"endField":    form.EndField,
	"dayField":    form.DayField,
	"shortDay":    timetable.ShortName,
}

type pageData struct {
	NumCoursesField string
	MaxRows         int
	Rows            []rowView
	// Stashed rows are carried as hidden inputs so a later grow restores them.
	Stashed     []rowView
	Week        []time.Weekday
	SlotPattern string
	TermStart   string
	TermEnd     string
	Error       string
}

type rowView struct {
	Index  int
	Number int
	form.Row
}

// Checked reports whether day wd is ticked on this row.
func (r rowView) Checked(wd time.Weekday) bool {
	return r.Days[(int(wd)+6)%7]
}

// rowsView keeps the rendered rows in step with a form.Rows list.
type rowsView struct {
	rows    *form.Rows
	visible []rowView
	stashed []rowView
}

func watchRows(rows *form.Rows) *rowsView {
	v := &rowsView{rows: rows}
	v.refresh(rows.All())
	rows.OnChange(v.refresh)
	return v
}

func (v *rowsView) refresh(visible []form.Row) {
	v.visible = v.visible[:0]
	for i, row := range visible {
		v.visible = append(v.visible, rowView{Index: i, Number: i + 1, Row: row})
	}
	v.stashed = v.stashed[:0]
	for j, row := range v.rows.Stashed() {
		i := len(visible) + j
		v.stashed = append(v.stashed, rowView{Index: i, Number: i + 1, Row: row})
	}
}

func (s *Server) handleFormPage(w http.ResponseWriter, r *http.Request) {
	n := 1
	if q := r.URL.Query().Get("courses"); q != "" {
		if v, err := strconv.Atoi(q); err == nil {
			n = v
		}
	}
	rows := form.NewRows(0)
	view := watchRows(rows)
	rows.Resize(n)
	s.renderForm(w, http.StatusOK, view, "")
}

// handleFormSubmit either resizes the form or generates the calendar.
func (s *Server) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	rows := form.ParseRows(r.PostForm)
	view := watchRows(rows)
	rows.Resize(form.RequestedRows(r.PostForm))

	if r.PostForm.Get("action") == actionResize {
		s.renderForm(w, http.StatusOK, view, "")
		return
	}

	snap := s.store.Current()
	if snap == nil {
		s.renderForm(w, http.StatusServiceUnavailable, view, "The timetable is not loaded yet. Try again shortly.")
		return
	}

	events, err := assemble.Assemble(rows.Entries(), snap, nil)
	if err != nil {
		var ie *assemble.InputError
		if errors.As(err, &ie) {
			s.renderForm(w, http.StatusBadRequest, view, ie.Message())
			return
		}
		appLog.Error("assemble failed", err)
		s.renderForm(w, http.StatusInternalServerError, view, "Error occurred in generation of ics file")
		return
	}

	body, err := ics.Encode(events, s.encodeOptions(snap))
	if err != nil {
		appLog.Error("ics generation failed", err, "event_count", len(events))
		s.renderForm(w, http.StatusInternalServerError, view, "Error occurred in generation of ics file")
		return
	}

	appLog.Info("schedule generated", "courses", rows.Len(), "events", len(events), "via", "form")
	s.writeCalendar(w, body)
}

func (s *Server) renderForm(w http.ResponseWriter, status int, view *rowsView, msg string) {
	data := pageData{
		NumCoursesField: form.NumCoursesField,
		MaxRows:         form.MaxRows,
		Rows:            view.visible,
		Stashed:         view.stashed,
		Week:            timetable.Week,
		Error:           msg,
	}
	if snap := s.store.Current(); snap != nil {
		data.SlotPattern = snap.Slots.Pattern()
		data.TermStart = snap.Term.StartDate.Format(timetable.DateLayout)
		data.TermEnd = snap.Term.EndDate.Format(timetable.DateLayout)
	}

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, data); err != nil {
		appLog.Error("failed to render form", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
