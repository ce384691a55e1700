package lci

import "github.com/cml-lca/promc/pkg/storage"

// ToyModel builds the simplified laptop supply chain used as the running
// example throughout the documentation and the test suite: a laptop
// assembled from copper and PET, produced in a factory whose own
// construction also consumes copper.
//
// The chain demonstrates the difference between material footprint and
// material composition: the copper embodied in the factory is part of the
// laptop's footprint but not of its composition, because the factory is
// not incorporated into the product.
//
//	copper ──0.25 kg──────────────► laptop
//	pet    ──0.80 kg──────────────► laptop
//	factory ──1e-6 unit───────────► laptop   (non-incorporated)
//	copper ──1000 kg──► factory
//
// The second laptop activity ("with a battery pack") exists to exercise
// shortest-name resolution.
func ToyModel() *Database {
	db := OpenMemory("db")
	key := func(code string) storage.ActivityKey {
		return storage.ActivityKey{Database: "db", Code: code}
	}

	acts := []*storage.Activity{
		{
			Key: key("laptop"), Name: "computer production, laptop",
			Product: "laptop", Unit: "unit",
		},
		{
			Key: key("laptop-bat"), Name: "computer production, laptop, with a battery pack",
			Product: "laptop", Unit: "unit",
		},
		{
			Key: key("factory"), Name: "factory construction",
			Product: "factory", Unit: "unit",
		},
		{
			Key: key("copper"), Name: "copper extraction",
			Product: "copper", Unit: "kilogram",
			Flows: []storage.ElementaryFlow{
				{Flow: "non-renewable resources, copper", Amount: 1.05},
			},
		},
		{
			Key: key("pet"), Name: "polyethylene terephthalate production",
			Product: "PET granulate", Unit: "kilogram",
			Flows: []storage.ElementaryFlow{
				{Flow: "non-renewable resources, crude oil", Amount: 1.9},
			},
		},
	}

	excs := []*storage.Exchange{
		{ID: "laptop<-copper#0", Input: key("copper"), Output: key("laptop"), Amount: 0.25},
		{ID: "laptop<-pet#1", Input: key("pet"), Output: key("laptop"), Amount: 0.8},
		{ID: "laptop<-factory#2", Input: key("factory"), Output: key("laptop"), Amount: 1e-6},
		{ID: "factory<-copper#0", Input: key("copper"), Output: key("factory"), Amount: 1000},
	}

	// The memory engine only errors on malformed fixtures; a panic here is
	// a bug in this file, not a runtime condition.
	if err := db.engine.BulkCreateActivities(acts); err != nil {
		panic(err)
	}
	if err := db.engine.BulkCreateExchanges(excs); err != nil {
		panic(err)
	}
	return db
}
