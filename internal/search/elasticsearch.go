package search

import (
	"bytes"
	"context"
	"encoding/json"

	"example.com/rtpalette/services/palette/config"
	"example.com/rtpalette/services/palette/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const chequeIndex = "cheques"

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// Ping checks the cluster connection, for health monitoring.
func (c *ElasticClient) Ping(ctx context.Context) error {
	res, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "elasticsearch ping failed")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}

// IndexCheque mirrors a cheque into the search index. The document is keyed
// by cheque ID so every lifecycle transition overwrites the previous state.
func (c *ElasticClient) IndexCheque(ctx context.Context, cheque *models.Cheque) error {
	doc := map[string]interface{}{
		"id":                cheque.ID,
		"order_id":          cheque.OrderID,
		"from_company_id":   cheque.FromCompanyID,
		"to_site_id":        cheque.ToSiteID,
		"quantity":          cheque.Quantity,
		"quantity_received": cheque.QuantityReceived,
		"pallet_type":       cheque.PalletType,
		"transporter_plate": cheque.TransporterPlate,
		"status":            cheque.Status,
		"created_at":        cheque.CreatedAt,
		"deposited_at":      cheque.DepositedAt,
		"received_at":       cheque.ReceivedAt,
	}

	docJson, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal cheque document")
	}

	indexName := config.FormatIndex(c.config, chequeIndex)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: cheque.ID,
		Body:       bytes.NewReader(docJson),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("cheque_id", cheque.ID).Msg("Cheque indexed")
	return nil
}

// SearchCheques searches the cheque index with the given query body, for
// admin tooling.
func (c *ElasticClient) SearchCheques(ctx context.Context, query map[string]interface{}) ([]map[string]interface{}, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	indexName := config.FormatIndex(c.config, chequeIndex)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected search result format")
	}
	hitsArray, ok := hits["hits"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected hits format")
	}

	var docs []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}
		docs = append(docs, source)
	}

	return docs, nil
}
