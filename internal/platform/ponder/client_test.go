package ponder_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/domalend/liquidator/internal/platform/ponder"
)

func TestFetchLoanCreatedEvents(t *testing.T) {
	var gotAuth string
	var gotVars map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotVars = req.Variables

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": {
				"loanEvents": {
					"items": [
						{
							"id": "evt-1",
							"eventType": "created_instant",
							"loanId": "42",
							"borrowerAddress": "0xb0rr",
							"domainTokenId": "777",
							"domainName": "example.eth",
							"loanAmount": "1000000000000000000",
							"interestRate": "500",
							"poolId": "3",
							"requestId": "",
							"repaymentDeadline": "1767225600000",
							"eventTimestamp": "1764633600",
							"transactionHash": "0xabc",
							"blockNumber": "123456"
						}
					]
				}
			}
		}`))
	}))
	defer srv.Close()

	client := ponder.NewClient(srv.URL, "secret-key")

	events, err := client.FetchLoanCreatedEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("FetchLoanCreatedEvents: %v", err)
	}

	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
	if limit, _ := gotVars["limit"].(float64); int(limit) != 100 {
		t.Errorf("limit variable = %v, want 100", gotVars["limit"])
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.ID != "evt-1" || e.LoanID != "42" || e.BorrowerAddress != "0xb0rr" {
		t.Errorf("unexpected event identity: %+v", e)
	}
	if e.RepaymentDeadline != "1767225600000" {
		t.Errorf("RepaymentDeadline = %q, want raw epoch-ms string", e.RepaymentDeadline)
	}
	wantTS := time.Unix(1764633600, 0).UTC()
	if !e.EventTimestamp.Equal(wantTS) {
		t.Errorf("EventTimestamp = %v, want %v", e.EventTimestamp, wantTS)
	}
	if e.BlockNumber != 123456 {
		t.Errorf("BlockNumber = %d, want 123456", e.BlockNumber)
	}
}

func TestFetchLoanCreatedEventsGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":[{"message":"unknown field loanEvents"}]}`))
	}))
	defer srv.Close()

	client := ponder.NewClient(srv.URL, "")
	if _, err := client.FetchLoanCreatedEvents(context.Background(), 10); err == nil {
		t.Fatal("expected error for GraphQL error response")
	}
}

func TestFetchIndexerStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": {
				"_meta": {
					"status": {
						"domaTestnet": {"ready": true, "block": {"number": 998877}}
					}
				}
			}
		}`))
	}))
	defer srv.Close()

	client := ponder.NewClient(srv.URL, "")
	status, err := client.FetchIndexerStatus(context.Background())
	if err != nil {
		t.Fatalf("FetchIndexerStatus: %v", err)
	}
	if !status.Ready {
		t.Error("status.Ready = false, want true")
	}
	if status.Block != 998877 {
		t.Errorf("status.Block = %d, want 998877", status.Block)
	}
}
