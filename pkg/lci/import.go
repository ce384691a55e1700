package lci

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cml-lca/promc/pkg/storage"
)

// Export is the flat JSON interchange format for a database: every
// activity with its embedded technosphere inputs and elementary flows.
//
// Format:
//
//	{
//	  "database": "db",
//	  "activities": [
//	    {
//	      "code": "laptop",
//	      "name": "computer production, laptop",
//	      "product": "laptop",
//	      "unit": "unit",
//	      "exchanges": [
//	        {"input": {"database": "db", "code": "copper"}, "amount": 0.25}
//	      ],
//	      "flows": [
//	        {"flow": "non-renewable resources, copper", "amount": 1.0}
//	      ]
//	    }
//	  ]
//	}
type Export struct {
	Database   string           `json:"database"`
	Activities []ExportActivity `json:"activities"`
}

// ExportActivity is one activity dataset in the interchange format.
type ExportActivity struct {
	Code      string                   `json:"code"`
	Name      string                   `json:"name"`
	Product   string                   `json:"product"`
	Unit      string                   `json:"unit,omitempty"`
	Location  string                   `json:"location,omitempty"`
	Exchanges []ExportExchange         `json:"exchanges,omitempty"`
	Flows     []storage.ElementaryFlow `json:"flows,omitempty"`
}

// ExportExchange is one technosphere input of an activity: the supplying
// activity's key and the consumed amount per unit of the consumer's
// reference product.
type ExportExchange struct {
	Input  storage.ActivityKey `json:"input"`
	Amount float64             `json:"amount"`
}

// ImportResult summarizes a completed import.
type ImportResult struct {
	ActivitiesLoaded int
	ExchangesLoaded  int
}

// ImportJSON loads a database export file into storage.
//
// All activities are created first, then exchanges, so every exchange
// endpoint is validated against the loaded activity set; a dangling input
// reference is a fatal import error naming the offending key.
//
// Exchange IDs are derived deterministically from the consumer code and
// the input position, so re-importing the same file into a fresh store
// yields identical IDs (and therefore identical report ordering).
func (db *Database) ImportJSON(path string) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}

	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parsing export: %w", err)
	}
	if export.Database == "" {
		return nil, fmt.Errorf("%w: missing database name", ErrBadInput)
	}

	acts := make([]*storage.Activity, 0, len(export.Activities))
	for _, ea := range export.Activities {
		if ea.Code == "" {
			return nil, fmt.Errorf("%w: activity %q has no code", ErrBadInput, ea.Name)
		}
		acts = append(acts, &storage.Activity{
			Key:      storage.ActivityKey{Database: export.Database, Code: ea.Code},
			Name:     ea.Name,
			Product:  ea.Product,
			Unit:     ea.Unit,
			Location: ea.Location,
			Flows:    ea.Flows,
		})
	}
	if err := db.engine.BulkCreateActivities(acts); err != nil {
		return nil, fmt.Errorf("importing activities: %w", err)
	}

	var excs []*storage.Exchange
	for _, ea := range export.Activities {
		output := storage.ActivityKey{Database: export.Database, Code: ea.Code}
		for i, ee := range ea.Exchanges {
			input := ee.Input
			if input.Database == "" {
				// Shorthand: inputs without a database refer to this export.
				input.Database = export.Database
			}
			excs = append(excs, &storage.Exchange{
				ID:     storage.ExchangeID(fmt.Sprintf("%s<-%s#%d", ea.Code, input.Code, i)),
				Input:  input,
				Output: output,
				Amount: ee.Amount,
			})
		}
	}
	if err := db.engine.BulkCreateExchanges(excs); err != nil {
		return nil, fmt.Errorf("importing exchanges: %w", err)
	}

	return &ImportResult{
		ActivitiesLoaded: len(acts),
		ExchangesLoaded:  len(excs),
	}, nil
}
