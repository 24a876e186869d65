package syncengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/highwaypatrol/passage-core/client/localstore"
	"github.com/highwaypatrol/passage-core/internal/domain"
)

// coreClient is the HTTP client against the core's ingest API (spec §6,
// §4.2). It carries the bearer token the client was provisioned with.
type coreClient struct {
	baseURL    string
	bearer     string
	httpClient *http.Client
}

func newCoreClient(baseURL, bearer string) *coreClient {
	return &coreClient{
		baseURL:    baseURL,
		bearer:     bearer,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type pushRequest struct {
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

type pushResponse struct {
	ID      int64  `json:"id"`
	Outcome string `json:"outcome"`
}

// push submits one local passage to the core's /api/passages endpoint.
// Both "created" and "created-equivalent" outcomes mean the server now
// has the passage; the caller doesn't need to distinguish them further.
func (c *coreClient) push(p *localstore.LocalPassage) (pushResponse, error) {
	body, err := json.Marshal(pushRequest{
		ClientID:       p.ClientID,
		PlateNumber:    p.PlateNumber,
		PlateNumberRaw: p.PlateNumberRaw,
		VehicleType:    p.VehicleType,
		CheckpostID:    p.CheckpostID,
		SegmentID:      p.SegmentID,
		RecordedAt:     p.RecordedAt,
		RangerID:       p.RangerID,
		PhotoRef:       p.PhotoRef,
	})
	if err != nil {
		return pushResponse{}, fmt.Errorf("syncengine: encoding push request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/passages", bytes.NewReader(body))
	if err != nil {
		return pushResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pushResponse{}, fmt.Errorf("syncengine: push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return pushResponse{}, fmt.Errorf("syncengine: push rejected with status %d", resp.StatusCode)
	}

	var out pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return pushResponse{}, fmt.Errorf("syncengine: decoding push response: %w", err)
	}
	return out, nil
}

// pull fetches unmatched opposite-checkpost passages for a segment since a
// cutoff, serving the inbound side of spec §4.9.
func (c *coreClient) pull(segmentID, checkpostID int64, since time.Time, limit int) ([]domain.Passage, error) {
	url := fmt.Sprintf("%s/api/passages/pull?segmentId=%d&checkpostId=%d&since=%s&limit=%d",
		c.baseURL, segmentID, checkpostID, since.UTC().Format(time.RFC3339), limit)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("syncengine: pull request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("syncengine: pull rejected with status %d", resp.StatusCode)
	}

	var out []domain.Passage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("syncengine: decoding pull response: %w", err)
	}
	return out, nil
}
