package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agendad/internal/config"
	"agendad/internal/model"
)

// listKeys are tried in order when the response is an object rather than a
// top-level array. "records"/"results" cover the open-data portals the
// city sources use; the rest cover ad hoc APIs.
var listKeys = []string{"records", "results", "events", "items", "data"}

// JSONAPISource fetches a JSON REST endpoint and flattens its items into
// raw records.
type JSONAPISource struct {
	cfg    config.SourceConfig
	client *http.Client
}

func NewJSONAPISource(cfg config.SourceConfig, client *http.Client) *JSONAPISource {
	return &JSONAPISource{cfg: cfg, client: client}
}

func (s *JSONAPISource) Name() string { return s.cfg.Name }
func (s *JSONAPISource) Kind() string { return "json-api" }

func (s *JSONAPISource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	resp, err := get(ctx, s.client, s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.cfg.Name, err)
	}
	defer resp.Body.Close()

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.cfg.Name, err)
	}

	items, err := extractList(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.cfg.Name, err)
	}

	records := make([]model.RawRecord, 0, len(items))
	for _, item := range items {
		if rec := flattenItem(item); len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records, nil
}

// extractList finds the record list in the decoded payload: either a
// top-level array or the first present list under a known key.
func extractList(payload any) ([]any, error) {
	switch v := payload.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, k := range listKeys {
			if list, ok := v[k].([]any); ok {
				return list, nil
			}
		}
		return nil, fmt.Errorf("no record list found in response object")
	default:
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}
}

// flattenItem unwraps the open-data envelope styles: a flat object is used
// as-is, an object with a "fields" map (OpenDataSoft v1) gets its fields
// hoisted next to the envelope's record id, and a nested "record" object
// (v2 exports) is unwrapped first.
func flattenItem(item any) model.RawRecord {
	obj, ok := item.(map[string]any)
	if !ok {
		return nil
	}

	if inner, ok := obj["record"].(map[string]any); ok {
		obj = inner
	}

	fields, ok := obj["fields"].(map[string]any)
	if !ok {
		return model.RawRecord(obj)
	}

	rec := make(model.RawRecord, len(fields)+1)
	for k, v := range fields {
		rec[k] = v
	}
	// Keep the envelope record id so the normalizer can use the native id.
	for _, k := range []string{"recordid", "id"} {
		if id, ok := obj[k]; ok {
			if _, taken := rec[k]; !taken {
				rec[k] = id
			}
		}
	}
	return rec
}
