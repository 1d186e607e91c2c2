// Package ponder is a GraphQL client for the Ponder indexer that mirrors the
// lending contract's event log. Ingestion treats it as an at-least-once,
// possibly-lagging event source; the client itself is stateless.
package ponder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/domalend/liquidator/internal/domain"
)

// loanCreatedEventTypes are the lifecycle events that open a loan. Both
// funding paths produce a repayment deadline the liquidator must supervise.
var loanCreatedEventTypes = []string{"created_instant", "created_crowdfunded"}

// Client is a GraphQL client for the Ponder indexer endpoint.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Ponder GraphQL client. apiKey is optional; when
// set it is sent as a bearer token.
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchLoanCreatedEvents queries loan-creation events ordered oldest-first,
// capped at limit. Ponder has no reliable server-side "since" filter, so the
// caller applies its own watermark on EventTimestamp.
func (c *Client) FetchLoanCreatedEvents(ctx context.Context, limit int) ([]domain.LoanEvent, error) {
	query := `
		query LoanCreatedEvents($types: [String!]!, $limit: Int!) {
			loanEvents(
				where: { eventType_in: $types }
				orderBy: "eventTimestamp"
				orderDirection: "asc"
				limit: $limit
			) {
				items {
					id
					eventType
					loanId
					borrowerAddress
					domainTokenId
					domainName
					loanAmount
					interestRate
					poolId
					requestId
					repaymentDeadline
					eventTimestamp
					transactionHash
					blockNumber
				}
			}
		}
	`

	variables := map[string]any{
		"types": loanCreatedEventTypes,
		"limit": limit,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("ponder: fetch loan events: %w", err)
	}

	var result struct {
		LoanEvents struct {
			Items []struct {
				ID                string `json:"id"`
				EventType         string `json:"eventType"`
				LoanID            string `json:"loanId"`
				BorrowerAddress   string `json:"borrowerAddress"`
				DomainTokenID     string `json:"domainTokenId"`
				DomainName        string `json:"domainName"`
				LoanAmount        string `json:"loanAmount"`
				InterestRate      string `json:"interestRate"`
				PoolID            string `json:"poolId"`
				RequestID         string `json:"requestId"`
				RepaymentDeadline string `json:"repaymentDeadline"`
				EventTimestamp    string `json:"eventTimestamp"`
				TransactionHash   string `json:"transactionHash"`
				BlockNumber       string `json:"blockNumber"`
			} `json:"items"`
		} `json:"loanEvents"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("ponder: decode loan events: %w", err)
	}

	events := make([]domain.LoanEvent, 0, len(result.LoanEvents.Items))
	for _, e := range result.LoanEvents.Items {
		ts, _ := strconv.ParseInt(e.EventTimestamp, 10, 64)
		block, _ := strconv.ParseInt(e.BlockNumber, 10, 64)

		events = append(events, domain.LoanEvent{
			ID:                e.ID,
			EventType:         e.EventType,
			LoanID:            e.LoanID,
			BorrowerAddress:   e.BorrowerAddress,
			DomainTokenID:     e.DomainTokenID,
			DomainName:        e.DomainName,
			LoanAmount:        e.LoanAmount,
			InterestRate:      e.InterestRate,
			PoolID:            e.PoolID,
			RequestID:         e.RequestID,
			RepaymentDeadline: e.RepaymentDeadline,
			EventTimestamp:    time.Unix(ts, 0).UTC(),
			TransactionHash:   e.TransactionHash,
			BlockNumber:       block,
		})
	}

	return events, nil
}

// IndexerStatus summarises the indexer's own progress, used by the status
// endpoint to surface indexing lag.
type IndexerStatus struct {
	Ready bool
	Block int64
}

// FetchIndexerStatus reads the _meta block from the indexer. A transport
// error means the indexer is unreachable; callers treat that as degraded,
// not fatal.
func (c *Client) FetchIndexerStatus(ctx context.Context) (IndexerStatus, error) {
	query := `
		query IndexerStatus {
			_meta {
				status
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return IndexerStatus{}, fmt.Errorf("ponder: fetch indexer status: %w", err)
	}

	var result struct {
		Meta struct {
			Status map[string]struct {
				Ready bool `json:"ready"`
				Block struct {
					Number int64 `json:"number"`
				} `json:"block"`
			} `json:"status"`
		} `json:"_meta"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return IndexerStatus{}, fmt.Errorf("ponder: decode indexer status: %w", err)
	}

	// Ponder reports per-network status; this deployment indexes one chain.
	status := IndexerStatus{Ready: true}
	for _, s := range result.Meta.Status {
		if !s.Ready {
			status.Ready = false
		}
		if s.Block.Number > status.Block {
			status.Block = s.Block.Number
		}
	}
	return status, nil
}

// ProbeIndexer is the flattened form of FetchIndexerStatus used by the
// status endpoint.
func (c *Client) ProbeIndexer(ctx context.Context) (bool, int64, error) {
	status, err := c.FetchIndexerStatus(ctx)
	if err != nil {
		return false, 0, err
	}
	return status.Ready, status.Block, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a GraphQL query against the Ponder endpoint and returns
// the raw "data" field from the response.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
