package db

import (
	"context"
	"fmt"
)

// Relation links a field of this resource to a record of another. Writes
// referencing a missing record fail with a foreign key error, and the
// relation can be expanded with Query.Include.
type Relation struct {
	Name       string
	ForeignKey string
	Target     Provider
}

func checkRelations(ctx context.Context, relations []Relation, data Record) error {
	for _, rel := range relations {
		ref, ok := data[rel.ForeignKey]
		if !ok || ref == nil {
			continue
		}
		id, isString := ref.(string)
		if !isString {
			return ErrForeignKey(rel.ForeignKey)
		}
		_, found, err := rel.Target.FindUnique(ctx, id, nil)
		if err != nil {
			return err
		}
		if !found {
			return ErrForeignKey(rel.ForeignKey)
		}
	}
	return nil
}

func includeRelations(ctx context.Context, relations []Relation, rec Record, include []string) error {
	for _, name := range include {
		for _, rel := range relations {
			if rel.Name != name {
				continue
			}
			id, _ := rec[rel.ForeignKey].(string)
			if id == "" {
				rec[name] = nil
				continue
			}
			related, found, err := rel.Target.FindUnique(ctx, id, nil)
			if err != nil {
				return fmt.Errorf("include %s: %w", name, err)
			}
			if found {
				rec[name] = related
			} else {
				rec[name] = nil
			}
		}
	}
	return nil
}
