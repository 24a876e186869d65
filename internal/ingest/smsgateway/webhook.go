// Package smsgateway is the SMS fallback intake channel (spec §4.5): a
// webhook that decodes a V1-encoded passage out of an inbound SMS body and
// feeds it through the same store path as the HTTP intake, deriving a
// deterministic client_id so a retransmitted SMS never double-inserts.
package smsgateway

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/internal/metrics"
	"github.com/highwaypatrol/passage-core/internal/store"
	"github.com/highwaypatrol/passage-core/pkg/log"
	"golang.org/x/time/rate"
)

// webhookRateLimit bounds inbound SMS webhook requests: a single carrier
// gateway is the only legitimate caller, so there is no reason to ever
// accept a burst anywhere near what a scraper or replay attempt would
// produce.
const (
	webhookRateLimit = 20 // requests per second
	webhookBurst     = 40
)

// smsClientIDNamespace is a fixed namespace UUID used to derive
// deterministic, version-5-style client ids from SMS body digests (spec
// §4.5 step 4). It is an arbitrary constant, not tied to any external
// identifier, and must never change once deployed.
var smsClientIDNamespace = uuid.MustParse("8f14e45f-ceea-467e-bb3c-6a1a6e7d3a1e")

// Gateway handles the SMS webhook. It talks to the raw store rather than
// the access-policy decorator: the HMAC signature check in
// verifySignature is this channel's authorization boundary (there is no
// per-request bearer token on an inbound SMS), and ranger/checkpost
// resolution below establishes who is speaking before any insert happens.
type Gateway struct {
	Store              *store.Store
	AuthSecret         string
	PublicURL          string
	ClockSkewTolerance time.Duration

	limiter *rate.Limiter
}

// MountRoutes registers the webhook endpoint. Separate from the main API's
// MountRoutes since this channel has its own authorization boundary.
func (g *Gateway) MountRoutes(r *mux.Router) {
	if g.limiter == nil {
		g.limiter = rate.NewLimiter(rate.Limit(webhookRateLimit), webhookBurst)
	}
	r.HandleFunc("/sms/webhook", g.Handle).Methods(http.MethodPost)
}

func (g *Gateway) Handle(rw http.ResponseWriter, r *http.Request) {
	if !g.limiter.Allow() {
		metrics.SMSGatewayRequests.WithLabelValues("rate_limited").Inc()
		writeAck(rw, http.StatusTooManyRequests, "too many requests")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeAck(rw, http.StatusBadRequest, "malformed request")
		return
	}

	if !g.verifySignature(r) {
		log.Warnf("smsgateway: signature verification failed for request from %s", r.RemoteAddr)
		metrics.SMSGatewayRequests.WithLabelValues("bad_signature").Inc()
		writeAck(rw, http.StatusForbidden, "signature invalid")
		return
	}

	body := r.FormValue("Body")
	rec, err := domain.DecodeSMS(body, time.Now().UTC(), g.ClockSkewTolerance)
	if err != nil {
		log.Warnf("smsgateway: decoding SMS body failed: %s", err.Error())
		metrics.SMSGatewayRequests.WithLabelValues("malformed_body").Inc()
		writeAck(rw, http.StatusOK, "could not process message")
		return
	}

	checkpost, err := g.Store.GetCheckpostByCode(rec.CheckpostCode)
	if err != nil {
		log.Warnf("smsgateway: resolving checkpost %q failed: %s", rec.CheckpostCode, err.Error())
		metrics.SMSGatewayRequests.WithLabelValues("unknown_checkpost").Inc()
		writeAck(rw, http.StatusOK, "could not process message")
		return
	}

	rangerID, _, err := g.Store.RangerBySuffix(rec.RangerPhoneSuffix)
	if err != nil {
		reason := "unknown_sender"
		if errors.Is(err, domain.ErrAmbiguousSender) {
			reason = "ambiguous_sender"
		}
		log.Warnf("smsgateway: resolving ranger failed: %s", err.Error())
		metrics.SMSGatewayRequests.WithLabelValues(reason).Inc()
		writeAck(rw, http.StatusOK, "could not process message")
		return
	}

	p := &domain.Passage{
		ClientID:    clientIDForSMSBody(body),
		PlateNumber: rec.PlateNumber,
		VehicleType: rec.VehicleType,
		CheckpostID: checkpost.ID,
		SegmentID:   checkpost.SegmentID,
		RecordedAt:  rec.RecordedAt,
		RangerID:    rangerID,
		Source:      domain.SourceSMS,
	}

	if _, _, err := g.Store.InsertPassage(p); err != nil {
		log.Errorf("smsgateway: inserting passage from SMS failed: %s", err.Error())
		metrics.SMSGatewayRequests.WithLabelValues("insert_failed").Inc()
		writeAck(rw, http.StatusOK, "could not process message")
		return
	}

	metrics.SMSGatewayRequests.WithLabelValues("accepted").Inc()
	writeAck(rw, http.StatusOK, "received")
}

// writeAck sends the short static acknowledgement body spec §4.5 step 5
// and §7 require: internal errors never leak to the SMS side.
func writeAck(rw http.ResponseWriter, status int, message string) {
	rw.Header().Set("Content-Type", "text/plain")
	rw.WriteHeader(status)
	rw.Write([]byte(message))
}

// verifySignature recomputes the HMAC-SHA1 over the public URL
// concatenated with the form fields in sorted key order (spec §4.5 step
// 1) and compares it in constant time against the X-Signature header.
func (g *Gateway) verifySignature(r *http.Request) bool {
	supplied := r.Header.Get("X-Signature")
	if supplied == "" {
		return false
	}

	var keys []string
	for k := range r.Form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(g.PublicURL)
	for _, k := range keys {
		for _, v := range r.Form[k] {
			sb.WriteString(k)
			sb.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(g.AuthSecret))
	mac.Write([]byte(sb.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// clientIDForSMSBody derives a deterministic client_id from the trimmed
// SMS body so that reprocessing the same message never creates a second
// Passage (spec §4.5 step 4).
func clientIDForSMSBody(body string) string {
	digest := sha256.Sum256([]byte(strings.TrimSpace(body)))
	return uuid.NewSHA1(smsClientIDNamespace, digest[:]).String()
}
