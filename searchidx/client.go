// Package searchidx is a minimal client for an Algolia-compatible search
// index API: bulk point lookup, bulk upsert, and task polling for write
// visibility. It is the boundary the ingester treats as its catalog store.
package searchidx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/catalogstream/enrichd/logger"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// idField is the identifier field of every indexed record, fixed by the
// index API.
const idField = "objectID"

const defaultPollInterval = 100 * time.Millisecond

// Config holds the connection settings for a Client.
type Config struct {
	// Endpoint is the base URL of the index API. When empty it is derived
	// from AppID the way hosted deployments name their clusters.
	Endpoint string
	AppID    string
	APIKey   string
	// Index is the name of the index all calls operate on.
	Index string
	// PollInterval is the delay between task status polls in Upsert.
	PollInterval time.Duration
	Log          logger.Logger
}

// Client talks to one search index. It is safe for concurrent use.
type Client struct {
	endpoint     string
	appID        string
	apiKey       string
	index        string
	pollInterval time.Duration

	http *retryablehttp.Client
	log  logger.Logger
}

func NewClient(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.algolia.net", cfg.AppID)
	}
	log := cfg.Log
	if log == nil {
		log = logger.NopLogger
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil

	return &Client{
		endpoint:     endpoint,
		appID:        cfg.AppID,
		apiKey:       cfg.APIKey,
		index:        cfg.Index,
		pollInterval: pollInterval,
		http:         rc,
		log:          log,
	}
}

type objectRequest struct {
	IndexName string `json:"indexName"`
	ObjectID  string `json:"objectID"`
}

type batchAction struct {
	Action string                 `json:"action"`
	Body   map[string]interface{} `json:"body"`
}

// GetExisting fetches the stored records for ids. Identifiers with no stored
// record come back from the API as JSON nulls and are simply absent from the
// returned map; only transport and API failures are errors.
func (c *Client) GetExisting(ctx context.Context, ids []string) (map[string]map[string]interface{}, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	reqs := make([]objectRequest, len(ids))
	for i, id := range ids {
		reqs[i] = objectRequest{IndexName: c.index, ObjectID: id}
	}

	var resp struct {
		Results []map[string]interface{} `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "/1/indexes/*/objects", map[string]interface{}{"requests": reqs}, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "fetching existing records")
	}

	existing := make(map[string]map[string]interface{}, len(resp.Results))
	for _, rec := range resp.Results {
		if rec == nil {
			continue
		}
		id, ok := rec[idField].(string)
		if !ok {
			continue
		}
		existing[id] = rec
	}
	c.log.Debugf("found %d of %d records in index %q", len(existing), len(ids), c.index)

	return existing, nil
}

// Upsert writes recs as updateObject actions and blocks until the index
// reports the resulting task published, so a nil return means the records
// are durable and visible to subsequent lookups.
func (c *Client) Upsert(ctx context.Context, recs []map[string]interface{}) error {
	if len(recs) == 0 {
		return nil
	}

	actions := make([]batchAction, len(recs))
	for i, rec := range recs {
		actions[i] = batchAction{Action: "updateObject", Body: rec}
	}

	var resp struct {
		TaskID int64 `json:"taskID"`
	}
	path := fmt.Sprintf("/1/indexes/%s/batch", url.PathEscape(c.index))
	err := c.do(ctx, http.MethodPost, path, map[string]interface{}{"requests": actions}, &resp)
	if err != nil {
		return errors.Wrapf(err, "saving %d records", len(recs))
	}

	return errors.Wrapf(c.WaitTask(ctx, resp.TaskID), "awaiting visibility of task %d", resp.TaskID)
}

// WaitTask polls the index until the given task has been published.
func (c *Client) WaitTask(ctx context.Context, taskID int64) error {
	path := fmt.Sprintf("/1/indexes/%s/task/%d", url.PathEscape(c.index), taskID)
	for {
		var resp struct {
			Status string `json:"status"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return err
		}
		if resp.Status == "published" {
			return nil
		}

		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		rd = bytes.NewReader(buf)
	}

	req, err := retryablehttp.NewRequest(method, c.endpoint+path, rd)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req = req.WithContext(ctx)
	req.Header.Set("X-Algolia-Application-Id", c.appID)
	req.Header.Set("X-Algolia-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}

	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding response")
}
