// Package materials maps activity keys to named materials and aggregates
// supply vectors into product compositions.
//
// A Dictionary links the materials of interest ("copper", "PET") to the
// activities that produce them in a specific LCI database, grouped into
// categories ("metals", "plastics"). After a solved composition run the
// supply-vector entries of those activities are summed per material and
// per group, yielding the estimated mass of each material in the product.
//
// Dictionaries are curated by hand or generated from database scans, and
// their entry order carries meaning: published result tables list
// materials in dictionary order, so iteration order is always declaration
// order, never sorted. Groups and materials are backed by slices for that
// reason.
//
// Example:
//
//	dict := materials.Dictionary{Groups: []materials.Group{{
//		Name: "metals",
//		Materials: []materials.Material{
//			{Name: "copper", Keys: []storage.ActivityKey{{Database: "db", Code: "copper"}}},
//		},
//	}}}
//	if err := dict.Validate(db); err != nil {
//		return err // a listed key is not in the database
//	}
//	comp, err := materials.Aggregate(lcaCtx, &dict, 3.15, 5)
package materials

import (
	"errors"
	"fmt"

	"github.com/cml-lca/promc/pkg/lci"
	"github.com/cml-lca/promc/pkg/storage"
)

// Common errors
var (
	ErrUnknownKey   = errors.New("dictionary key not present in database")
	ErrUnknownGroup = errors.New("no such material group")
	ErrBadWeight    = errors.New("reference weight must be positive")
	ErrEmptyName    = errors.New("empty name in dictionary")
)

// Material names one material and lists the activities producing it.
// Several keys per material are common: regional production activities,
// or primary-ingot activities split across suppliers.
type Material struct {
	Name string
	Keys []storage.ActivityKey
}

// Group is an ordered list of materials under one category name, such as
// "metals" or "plastics".
type Group struct {
	Name      string
	Materials []Material
}

// Dictionary is an ordered collection of material groups.
type Dictionary struct {
	Groups []Group
}

// Group returns the named group, or ErrUnknownGroup.
func (d *Dictionary) Group(name string) (*Group, error) {
	for i := range d.Groups {
		if d.Groups[i].Name == name {
			return &d.Groups[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, name)
}

// Merge appends the groups of other, preserving their order. A group
// whose name already exists has its materials appended to the existing
// group instead, keeping one entry per category.
func (d *Dictionary) Merge(other *Dictionary) {
	for _, g := range other.Groups {
		if existing, err := d.Group(g.Name); err == nil {
			existing.Materials = append(existing.Materials, g.Materials...)
			continue
		}
		d.Groups = append(d.Groups, g)
	}
}

// Flatten collapses the named group's materials into a single aggregate
// bucket carrying all their keys. Used when only the category total
// matters, such as "plastics" as one number.
func (d *Dictionary) Flatten(groupName, bucketName string) error {
	g, err := d.Group(groupName)
	if err != nil {
		return err
	}
	var keys []storage.ActivityKey
	for _, m := range g.Materials {
		keys = append(keys, m.Keys...)
	}
	g.Materials = []Material{{Name: bucketName, Keys: keys}}
	return nil
}

// Validate checks every key in the dictionary against the database.
// Dictionaries are written against a specific database release; a stale
// key must fail here, at load time, rather than surface later as a
// missing supply entry halfway through a composition run.
func (d *Dictionary) Validate(db *lci.Database) error {
	for _, g := range d.Groups {
		if g.Name == "" {
			return ErrEmptyName
		}
		for _, m := range g.Materials {
			if m.Name == "" {
				return fmt.Errorf("%w: group %s", ErrEmptyName, g.Name)
			}
			for _, key := range m.Keys {
				if _, err := db.ActivityByKey(key); err != nil {
					return fmt.Errorf("%w: %s (group %s, material %s): %v",
						ErrUnknownKey, key, g.Name, m.Name, err)
				}
			}
		}
	}
	return nil
}
