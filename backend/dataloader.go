package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/lib/pq"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

// profileCard is what notifications show about a candidate.
type profileCard struct {
	ID          string `json:"id"`
	Email       string `json:"-"`
	DisplayName string `json:"display_name"`
	Instagram   string `json:"instagram,omitempty"`
}

func (c profileCard) contact() matching.Contact {
	return matching.Contact{ID: matching.CandidateID(c.ID), Email: c.Email, DisplayName: c.DisplayName}
}

// contactDirectory resolves candidates through a batched loader. Results
// are not cached; each lookup sees the current profile.
type contactDirectory struct {
	loader *dataloader.Loader[string, profileCard]
}

func newContactDirectory(db *sql.DB) *contactDirectory {
	return &contactDirectory{
		loader: dataloader.NewBatchedLoader(
			profileBatchFn(db),
			dataloader.WithWait[string, profileCard](16*time.Millisecond),
			dataloader.WithCache[string, profileCard](&dataloader.NoCache[string, profileCard]{}),
		),
	}
}

func (d *contactDirectory) Contact(ctx context.Context, id matching.CandidateID) (matching.Contact, error) {
	card, err := d.loader.Load(ctx, string(id))()
	if err != nil {
		return matching.Contact{}, err
	}
	return card.contact(), nil
}

func (d *contactDirectory) Card(ctx context.Context, id string) (profileCard, error) {
	return d.loader.Load(ctx, id)()
}

// profileBatchFn loads many profiles in one query. Missing ids get an error
// result at their own position.
func profileBatchFn(db *sql.DB) dataloader.BatchFunc[string, profileCard] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[profileCard] {
		results := make([]*dataloader.Result[profileCard], len(keys))
		if len(keys) == 0 {
			return results
		}

		rows, err := db.QueryContext(ctx, `
			SELECT id, email, COALESCE(display_name, ''), COALESCE(instagram, '')
			FROM profiles
			WHERE id = ANY($1)
		`, pq.Array(keys))
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result[profileCard]{Error: err}
			}
			return results
		}
		defer rows.Close()

		found := make(map[string]profileCard, len(keys))
		for rows.Next() {
			var c profileCard
			if err := rows.Scan(&c.ID, &c.Email, &c.DisplayName, &c.Instagram); err != nil {
				continue
			}
			found[c.ID] = c
		}

		for i, key := range keys {
			if c, ok := found[key]; ok {
				results[i] = &dataloader.Result[profileCard]{Data: c}
			} else {
				results[i] = &dataloader.Result[profileCard]{Error: fmt.Errorf("profile %s not found", key)}
			}
		}
		return results
	}
}
