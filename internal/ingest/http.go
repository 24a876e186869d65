// Package ingest is the HTTP intake surface of the core (spec §4.2): the
// one write path for app-sourced passages and the one read path for the
// client sync engine's inbound pull.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/internal/metrics"
	"github.com/highwaypatrol/passage-core/internal/policy"
	"github.com/highwaypatrol/passage-core/internal/util"
	"github.com/highwaypatrol/passage-core/pkg/log"
)

// maxPullLimit bounds a client-supplied limit query parameter to the
// spec §4.9 paging ceiling.
const maxPullLimit = 500

// API mounts the passage intake and pull endpoints onto a mux.Router.
type API struct {
	Store              *policy.ScopedStore
	Tokens             *policy.TokenParser
	ClockSkewTolerance time.Duration
}

func (a *API) MountRoutes(r *mux.Router) {
	r = r.PathPrefix("/api").Subrouter()
	r.StrictSlash(true)

	r.HandleFunc("/passages", a.identify(a.createPassage)).Methods(http.MethodPost)
	r.HandleFunc("/passages/{id:[0-9]+}", a.identify(a.getPassage)).Methods(http.MethodGet)
	r.HandleFunc("/passages/pull", a.identify(a.pullUnmatched)).Methods(http.MethodGet)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(rw http.ResponseWriter, status int, err error) {
	log.Warnf("ingest: request failed: %s", err.Error())
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(errorResponse{Error: err.Error()})
}

// statusForError maps a domain error to the HTTP status spec §7 expects.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrPolicyRefused):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMalformed), errors.Is(err, domain.ErrFutureTimestamp):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAmbiguousSender), errors.Is(err, domain.ErrUnknownSender):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type callerIdentityKey struct{}

// identify extracts and validates the caller's bearer token before
// delegating to next; refusing unauthenticated or malformed callers here
// means every downstream handler can assume a valid CallerIdentity.
func (a *API) identify(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		caller, err := a.Tokens.Parse(r.Header.Get("Authorization"))
		if err != nil {
			writeError(rw, http.StatusUnauthorized, domain.ErrPolicyRefused)
			return
		}
		ctx := withCaller(r.Context(), caller)
		next(rw, r.WithContext(ctx))
	}
}

type createPassageRequest struct {
	ClientID       string             `json:"clientId"`
	PlateNumber    string             `json:"plateNumber"`
	PlateNumberRaw string             `json:"plateNumberRaw,omitempty"`
	VehicleType    domain.VehicleType `json:"vehicleType"`
	CheckpostID    int64              `json:"checkpostId"`
	SegmentID      int64              `json:"segmentId"`
	RecordedAt     time.Time          `json:"recordedAt"`
	RangerID       int64              `json:"rangerId"`
	PhotoRef       string             `json:"photoRef,omitempty"`
}

type createPassageResponse struct {
	ID      int64  `json:"id"`
	Outcome string `json:"outcome"`
}

func (a *API) createPassage(rw http.ResponseWriter, r *http.Request) {
	var req createPassageRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("decoding request body: %w", err))
		return
	}

	p := &domain.Passage{
		ClientID:       req.ClientID,
		PlateNumber:    req.PlateNumber,
		PlateNumberRaw: req.PlateNumberRaw,
		VehicleType:    req.VehicleType,
		CheckpostID:    req.CheckpostID,
		SegmentID:      req.SegmentID,
		RecordedAt:     req.RecordedAt,
		RangerID:       req.RangerID,
		Source:         domain.SourceApp,
		PhotoRef:       req.PhotoRef,
	}

	if err := domain.SanityCheck(p, time.Now().UTC(), a.ClockSkewTolerance); err != nil {
		metrics.PassageIngestRejected.WithLabelValues(string(domain.SourceApp), "malformed").Inc()
		writeError(rw, statusForError(err), err)
		return
	}

	caller := callerFrom(r.Context())
	outcome, id, err := a.Store.InsertPassage(caller, p)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyRefused) {
			metrics.PassageIngestRejected.WithLabelValues(string(domain.SourceApp), "policy_refused").Inc()
		}
		writeError(rw, statusForError(err), err)
		return
	}

	status := "created"
	if outcome == domain.Duplicate {
		status = "created-equivalent"
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusCreated)
	json.NewEncoder(rw).Encode(createPassageResponse{ID: id, Outcome: status})
}

func (a *API) getPassage(rw http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	caller := callerFrom(r.Context())
	p, err := a.Store.GetPassage(caller, id)
	if err != nil {
		writeError(rw, statusForError(err), err)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(p)
}

// pullUnmatched serves the client sync engine's inbound-pull query (spec
// §4.9): the unmatched passages from the opposite checkpost on a segment,
// since some cutoff.
func (a *API) pullUnmatched(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	segmentID, err := strconv.ParseInt(q.Get("segmentId"), 10, 64)
	if err != nil {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("parsing segmentId: %w", err))
		return
	}
	checkpostID, err := strconv.ParseInt(q.Get("checkpostId"), 10, 64)
	if err != nil {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("parsing checkpostId: %w", err))
		return
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	if raw := q.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(rw, http.StatusBadRequest, fmt.Errorf("parsing since: %w", err))
			return
		}
		cutoff = parsed
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, _ := strconv.Atoi(raw)
		limit = util.Clamp(parsed, 0, maxPullLimit)
	}

	caller := callerFrom(r.Context())
	list, err := a.Store.ListUnmatchedOpposite(caller, segmentID, checkpostID, cutoff, limit)
	if err != nil {
		writeError(rw, statusForError(err), err)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(list)
}
