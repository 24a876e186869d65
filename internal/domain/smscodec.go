package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SMSVersion1 is the only wire version this codec understands. A future
// incompatible change to the vehicle-code table or field layout must bump
// this and add a new decoder, never mutate this one in place.
const SMSVersion1 = "V1"

// smsFieldCount is the exact number of pipe-delimited fields a V1 record
// carries: version, checkpost_code, plate, vehicle_code, unix_seconds,
// ranger_phone_suffix.
const smsFieldCount = 6

// SMSMaxBytes bounds a serialized record to a single GSM-7 SMS segment.
const SMSMaxBytes = 160

// SMSRecord is the decoded form of a V1 wire message. It carries the raw
// fields needed to resolve a Passage at the ingest gateway; checkpost_id,
// segment_id, and ranger_id are resolved later by looking up
// CheckpostCode and RangerPhoneSuffix against the store.
type SMSRecord struct {
	CheckpostCode     string
	PlateNumber       string
	VehicleType       VehicleType
	RecordedAt        time.Time
	RangerPhoneSuffix string
}

// EncodeSMS renders r as a V1 pipe-delimited record. Returns a CodecError
// if any field contains the delimiter or would not survive as GSM-7, or if
// the vehicle type has no wire code.
func EncodeSMS(r SMSRecord) (string, error) {
	code, ok := vehicleCodeOf(r.VehicleType)
	if !ok {
		return "", newCodecError(CodecErrUnknownVehicleCode, fmt.Sprintf("sms encode: vehicle type %q has no wire code", r.VehicleType))
	}

	fields := []string{
		SMSVersion1,
		r.CheckpostCode,
		r.PlateNumber,
		code,
		strconv.FormatInt(r.RecordedAt.UTC().Unix(), 10),
		r.RangerPhoneSuffix,
	}

	for _, f := range fields {
		if strings.Contains(f, "|") {
			return "", newCodecError(CodecErrMalformed, fmt.Sprintf("sms encode: field %q contains delimiter", f))
		}
		if !isGSM7Safe(f) {
			return "", newCodecError(CodecErrMalformed, fmt.Sprintf("sms encode: field %q is not GSM-7 safe", f))
		}
	}

	out := strings.Join(fields, "|")
	if len(out) > SMSMaxBytes {
		return "", newCodecError(CodecErrMalformed, fmt.Sprintf("sms encode: record is %d bytes, exceeds max %d", len(out), SMSMaxBytes))
	}

	return out, nil
}

// DecodeSMS parses a V1 wire record. clockSkewTolerance bounds how far into
// the future a timestamp may be before it is rejected as invalid (the same
// tolerance the ingest gateway applies to app-sourced passages).
func DecodeSMS(body string, now time.Time, clockSkewTolerance time.Duration) (SMSRecord, error) {
	body = strings.TrimSpace(body)
	if len(body) > SMSMaxBytes {
		return SMSRecord{}, newCodecError(CodecErrMalformed, fmt.Sprintf("sms decode: body is %d bytes, exceeds max %d", len(body), SMSMaxBytes))
	}

	fields := strings.Split(body, "|")
	if len(fields) != smsFieldCount {
		return SMSRecord{}, newCodecError(CodecErrMalformed, fmt.Sprintf("sms decode: expected %d fields, got %d", smsFieldCount, len(fields)))
	}

	if fields[0] != SMSVersion1 {
		return SMSRecord{}, newCodecError(CodecErrUnsupportedVersion, fmt.Sprintf("sms decode: unsupported version %q", fields[0]))
	}

	checkpostCode := fields[1]
	plate := fields[2]
	vt, ok := vehicleTypeOfCode(fields[3])
	if !ok {
		return SMSRecord{}, newCodecError(CodecErrUnknownVehicleCode, fmt.Sprintf("sms decode: unknown vehicle code %q", fields[3]))
	}

	epoch, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return SMSRecord{}, newCodecError(CodecErrInvalidTimestamp, fmt.Sprintf("sms decode: invalid timestamp %q", fields[4]))
	}
	recordedAt := time.Unix(epoch, 0).UTC()
	if recordedAt.After(now.Add(clockSkewTolerance)) {
		return SMSRecord{}, newCodecError(CodecErrInvalidTimestamp, fmt.Sprintf("sms decode: timestamp %s is too far in the future", recordedAt))
	}

	suffix := fields[5]
	if checkpostCode == "" || plate == "" || suffix == "" {
		return SMSRecord{}, newCodecError(CodecErrMalformed, "sms decode: empty required field")
	}

	return SMSRecord{
		CheckpostCode:     checkpostCode,
		PlateNumber:       plate,
		VehicleType:       vt,
		RecordedAt:        recordedAt,
		RangerPhoneSuffix: suffix,
	}, nil
}

// isGSM7Safe approximates the GSM-03.38 default alphabet by accepting
// printable ASCII only; the checkpost codes, plates, and phone suffixes
// this system deals in never need the extended GSM-7 escape table.
func isGSM7Safe(s string) bool {
	for _, r := range s {
		if r < 0x20 || r > 0x7E {
			return false
		}
	}
	return true
}
