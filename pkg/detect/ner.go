package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/melokeo/graphmem/pkg/common"
)

// DefaultNERTimeout bounds a single NER round trip so a slow provider cannot
// stall the turn.
const DefaultNERTimeout = 6 * time.Second

// ProviderEntity is one entity as reported by the NER provider, before type
// mapping and span recovery.
type ProviderEntity struct {
	Type     string
	Name     string
	Salience float64
	Mentions []ProviderMention
}

// ProviderMention is one surface occurrence of a provider entity.
type ProviderMention struct {
	Text        string
	BeginOffset int
}

// ProviderError is a failed NER call: transport failure, non-2xx status, or
// an unparseable body.
type ProviderError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ner provider: %v", e.Err)
	}
	return fmt.Sprintf("ner provider: http %d: %s", e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NERClient calls a Cloud Natural Language-style analyzeEntities endpoint.
type NERClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NERClientParams configures an NERClient. Timeout defaults to
// DefaultNERTimeout when zero.
type NERClientParams struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// NewNERClient creates a client for the given analyzeEntities endpoint.
func NewNERClient(params NERClientParams) *NERClient {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultNERTimeout
	}
	return &NERClient{
		endpoint: params.Endpoint,
		apiKey:   params.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	Document     analyzeDocument `json:"document"`
	EncodingType string          `json:"encodingType"`
}

type analyzeDocument struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type analyzeResponse struct {
	Entities []struct {
		Name     string  `json:"name"`
		Type     string  `json:"type"`
		Salience float64 `json:"salience"`
		Mentions []struct {
			Text struct {
				Content     string `json:"content"`
				BeginOffset int    `json:"beginOffset"`
			} `json:"text"`
		} `json:"mentions"`
	} `json:"entities"`
}

// AnalyzeEntities sends the text to the provider and returns its entities.
// Any transport error, non-2xx status, or malformed body is returned as a
// *ProviderError; there is no retry here, callers own their backoff policy.
func (c *NERClient) AnalyzeEntities(ctx context.Context, text string) ([]ProviderEntity, error) {
	payload, err := json.Marshal(analyzeRequest{
		Document:     analyzeDocument{Type: "PLAIN_TEXT", Content: text},
		EncodingType: "UTF8",
	})
	if err != nil {
		return nil, &ProviderError{Err: err}
	}

	url := c.endpoint
	if c.apiKey != "" {
		url += "?key=" + c.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	rsp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	if rsp.StatusCode < 200 || rsp.StatusCode >= 300 {
		return nil, &ProviderError{StatusCode: rsp.StatusCode, Body: string(body)}
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProviderError{StatusCode: rsp.StatusCode, Body: string(body), Err: err}
	}

	entities := make([]ProviderEntity, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		mentions := make([]ProviderMention, 0, len(e.Mentions))
		for _, m := range e.Mentions {
			mentions = append(mentions, ProviderMention{
				Text:        m.Text.Content,
				BeginOffset: m.Text.BeginOffset,
			})
		}
		entities = append(entities, ProviderEntity{
			Type:     e.Type,
			Name:     e.Name,
			Salience: e.Salience,
			Mentions: mentions,
		})
	}
	return entities, nil
}

// providerTypeMap maps the provider's entity labels onto the internal enum.
var providerTypeMap = map[string]string{
	"PERSON":        common.TypePerson,
	"LOCATION":      common.TypeLocation,
	"ORGANIZATION":  common.TypeOrg,
	"EVENT":         common.TypeEvent,
	"WORK_OF_ART":   common.TypeWork,
	"CONSUMER_GOOD": common.TypeItem,
	"PHONE_NUMBER":  common.TypeOther,
	"ADDRESS":       common.TypeLocation,
	"DATE":          common.TypeTime,
	"NUMBER":        common.TypeQuantity,
	"PRICE":         common.TypeQuantity,
	"OTHER":         common.TypeEntity,
}

// MapProviderType maps a provider type label to the internal enum; unknown
// labels become the catch-all Entity type.
func MapProviderType(providerType string) string {
	if mapped, ok := providerTypeMap[providerType]; ok {
		return mapped
	}
	return common.TypeEntity
}
