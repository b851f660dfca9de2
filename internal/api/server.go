// Package api serves experiment queries over HTTP as JSON.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/ophys.report/internal/experiment"
	"github.com/banshee-data/ophys.report/internal/httputil"
	"github.com/banshee-data/ophys.report/internal/lims"
	"github.com/banshee-data/ophys.report/internal/monitoring"
	"github.com/banshee-data/ophys.report/internal/ophys"
	"github.com/banshee-data/ophys.report/internal/plot"
	"github.com/banshee-data/ophys.report/internal/trials"
	"github.com/banshee-data/ophys.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	src   experiment.DataSource
	files experiment.FileReader
	opts  []experiment.Option
}

// NewServer returns a Server answering from src and files. opts apply to
// every experiment the server opens.
func NewServer(src experiment.DataSource, files experiment.FileReader, opts ...experiment.Option) *Server {
	return &Server{
		src:   src,
		files: files,
		opts:  opts,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.HandleFunc("GET /api/experiments/{id}", s.showMetadata)
	mux.HandleFunc("GET /api/experiments/{id}/cell_roi_table", s.showCellROITable)
	mux.HandleFunc("GET /api/experiments/{id}/behavior_stimulus_file", s.showStimulusFile)
	mux.HandleFunc("GET /api/experiments/{id}/nwb_file", s.showNWBFile)
	mux.HandleFunc("GET /api/experiments/{id}/extended_trials", s.listExtendedTrials)
	mux.HandleFunc("GET /api/experiments/{id}/dff_traces", s.showTraces)
	mux.HandleFunc("GET /api/experiments/{id}/ophys_timestamps", s.showOphysTimestamps)
	mux.HandleFunc("GET /api/experiments/{id}/stimulus_timestamps", s.showStimulusTimestamps)
	mux.HandleFunc("GET /api/experiments/{id}/charts/dff", s.showDFFChart)
	return mux
}

// Samples encodes as a JSON array of numbers with NaN and ±Inf written as
// null.
type Samples []float64

// MarshalJSON implements json.Marshaler.
func (s Samples) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	b := make([]byte, 0, 2+len(s)*8)
	b = append(b, '[')
	for i, v := range s {
		if i > 0 {
			b = append(b, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			b = append(b, "null"...)
			continue
		}
		b = strconv.AppendFloat(b, v, 'g', -1, 64)
	}
	return append(b, ']'), nil
}

// TraceResponse is the JSON form of a trace matrix: Traces[i] belongs to
// ROIIDs[i].
type TraceResponse struct {
	ROIIDs []int64   `json:"roi_ids"`
	Traces []Samples `json:"traces"`
}

// NewTraceResponse copies tm into a TraceResponse. An empty matrix yields
// empty arrays rather than nulls.
func NewTraceResponse(tm *ophys.TraceMatrix) TraceResponse {
	resp := TraceResponse{ROIIDs: []int64{}, Traces: []Samples{}}
	if tm == nil || tm.Len() == 0 {
		return resp
	}
	resp.ROIIDs = tm.ROIIDs
	for _, row := range tm.Rows() {
		resp.Traces = append(resp.Traces, Samples(row))
	}
	return resp
}

// PathResponse carries a single file path.
type PathResponse struct {
	Path string `json:"path"`
}

// TimestampResponse carries one timestamp per sample.
type TimestampResponse struct {
	Timestamps Samples `json:"timestamps"`
}

// NewTimestampResponse wraps ts, writing an empty array for no samples.
func NewTimestampResponse(ts []float64) TimestampResponse {
	if ts == nil {
		ts = []float64{}
	}
	return TimestampResponse{Timestamps: Samples(ts)}
}

// experimentFor parses the {id} path value. It writes a 400 and returns
// nil when the id is not a positive integer.
func (s *Server) experimentFor(w http.ResponseWriter, r *http.Request) *experiment.Api {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httputil.BadRequest(w, fmt.Sprintf("invalid experiment id %q", raw))
		return nil
	}
	return experiment.New(id, s.src, s.files, s.opts...)
}

// writeError maps a query error onto a status code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *trials.ValidationError
	switch {
	case errors.Is(err, lims.ErrOneResultExpected):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, ophys.ErrDataIntegrity),
		errors.Is(err, ophys.ErrLengthMismatch),
		errors.As(err, &verr):
		httputil.UnprocessableEntity(w, err.Error())
	default:
		monitoring.Logf("api: %v", err)
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}

func (s *Server) showMetadata(w http.ResponseWriter, r *http.Request) {
	exp := s.experimentFor(w, r)
	if exp == nil {
		return
	}
	md, err := exp.Metadata(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, md)
}

func (s *Server) showCellROITable(w http.ResponseWriter, r *http.Request) {
	exp := s.experimentFor(w, r)
	if exp == nil {
		return
	}
	rois, err := exp.CellSpecimenTable(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rois == nil {
		rois = []lims.CellROI{}
	}
	httputil.WriteJSONOK(w, rois)
}

func (s *Server) showStimulusFile(w http.ResponseWriter, r *http.Request) {
	exp := s.experimentFor(w, r)
	if exp == nil {
		return
	}
	path, err := exp.BehaviorStimulusFile(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, PathResponse{Path: path})
}

func (s *Server) showNWBFile(w http.ResponseWriter, r *http.Request) {
	exp := s.experimentFor(w, r)
	if exp == nil {
		return
	}
	path, err := exp.NWBFilePath(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, PathResponse{Path: path})
}

func (s *Server) listExtendedTrials(w http.ResponseWriter, r *http.Request) {
	exp := s.experimentFor(w, r)
	if exp == nil {
		return
	}
	out, err := exp.ExtendedTrials(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if out == nil {
		out = []trials.ExtendedTrial{}
	}
	httputil.WriteJSONOK(w, out)
}

// showTraces serves the dF/F traces, or another trace product named by the
// kind query parameter (dff, demixed, corrected).
func (s *Server) showTraces(w http.ResponseWriter, r *http.Request) {
	exp := s.experimentFor(w, r)
	if exp == nil {
		return
	}

	var (
		tm  *ophys.TraceMatrix
		err error
	)
	switch kind := r.URL.Query().Get("kind"); kind {
	case "", "dff":
		tm, err = exp.RawDFFTraces(r.Context())
	case "demixed":
		tm, err = exp.DemixedTraces(r.Context())
	case "corrected":
		tm, err = exp.CorrectedFluorescenceTraces(r.Context())
	default:
		httputil.BadRequest(w, fmt.Sprintf("invalid 'kind' parameter %q", kind))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	httputil.WriteJSONOK(w, NewTraceResponse(tm))
}

func (s *Server) showOphysTimestamps(w http.ResponseWriter, r *http.Request) {
	exp := s.experimentFor(w, r)
	if exp == nil {
		return
	}
	ts, err := exp.OphysTimestamps(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, NewTimestampResponse(ts))
}

func (s *Server) showStimulusTimestamps(w http.ResponseWriter, r *http.Request) {
	exp := s.experimentFor(w, r)
	if exp == nil {
		return
	}
	ts, err := exp.StimulusTimestamps(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, NewTimestampResponse(ts))
}

// showDFFChart renders the canonical-order dF/F traces against the aligned
// ophys timestamps as an HTML chart.
func (s *Server) showDFFChart(w http.ResponseWriter, r *http.Request) {
	exp := s.experimentFor(w, r)
	if exp == nil {
		return
	}
	tm, err := exp.RawDFFTraces(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	ts, err := exp.OphysTimestamps(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	var buf bytes.Buffer
	title := fmt.Sprintf("Experiment %d dF/F", exp.ID())
	if err := plot.RenderTraceChart(&buf, tm, ts, title); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}
