package materials

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cml-lca/promc/pkg/storage"
)

// Generated dictionary files map material names to lists of [database,
// code] pairs:
//
//	{
//	  "PET": [["cutoff36", "b4f2456c..."], ["cutoff36", "9b12c682..."]],
//	  "PP":  [["cutoff36", "88502cc0..."]]
//	}
//
// Material order in the file is the publication order of the results, so
// decoding goes through the json.Decoder token stream instead of a map:
// unmarshalling into map[string]... would shuffle the keys.

// LoadGroupJSON reads a material dictionary file and returns it as a
// single group named groupName. A pair with an empty database field takes
// dbName, so hand-written files can list bare codes.
func LoadGroupJSON(path, groupName, dbName string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dictionary %s: %w", path, err)
	}
	defer f.Close()

	group, err := decodeGroup(f, groupName, dbName)
	if err != nil {
		return nil, fmt.Errorf("parsing dictionary %s: %w", path, err)
	}
	return &Dictionary{Groups: []Group{*group}}, nil
}

func decodeGroup(r io.Reader, groupName, dbName string) (*Group, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	group := &Group{Name: groupName}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected material name, got %v", tok)
		}

		var pairs [][]string
		if err := dec.Decode(&pairs); err != nil {
			return nil, fmt.Errorf("material %s: %w", name, err)
		}

		mat := Material{Name: name}
		for i, pair := range pairs {
			if len(pair) != 2 {
				return nil, fmt.Errorf("material %s: pair %d has %d elements, want [database, code]",
					name, i, len(pair))
			}
			key := storage.ActivityKey{Database: pair[0], Code: pair[1]}
			if key.Database == "" {
				key.Database = dbName
			}
			mat.Keys = append(mat.Keys, key)
		}
		group.Materials = append(group.Materials, mat)
	}

	if _, err := dec.Token(); err != nil { // closing brace
		return nil, err
	}
	return group, nil
}
