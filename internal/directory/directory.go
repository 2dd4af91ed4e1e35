package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/Skotchmaster/football_stats/internal/models"
)

// Entry is the searchable projection of a user.
type Entry struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

func EntryFromUser(u *models.User) Entry {
	return Entry{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		FullName: u.FullName,
		Role:     u.Role.String(),
		IsActive: u.IsActive,
	}
}

func NewClient(ctx context.Context, url, user, password string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
		Username:  user,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}

	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch info: %s: %s", res.Status(), body)
	}
	return client, nil
}

// Directory mirrors user summaries into an Elasticsearch index for admin search.
type Directory struct {
	ES    *elasticsearch.Client
	Index string
}

func (d *Directory) Upsert(ctx context.Context, u *models.User) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(EntryFromUser(u)); err != nil {
		return fmt.Errorf("directory: encode: %w", err)
	}
	res, err := d.ES.Index(d.Index, &buf,
		d.ES.Index.WithContext(ctx),
		d.ES.Index.WithDocumentID(strconv.FormatUint(uint64(u.ID), 10)),
	)
	if err != nil {
		return fmt.Errorf("directory: index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("directory: index: %s", res.Status())
	}
	return nil
}

func (d *Directory) Remove(ctx context.Context, id uint) error {
	res, err := d.ES.Delete(d.Index, strconv.FormatUint(uint64(id), 10), d.ES.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("directory: delete: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("directory: delete: %s", res.Status())
	}
	return nil
}

func (d *Directory) Search(ctx context.Context, query string, from, size int) (int64, []Entry, error) {
	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":     query,
				"fields":    []string{"username^2", "email", "full_name"},
				"fuzziness": "AUTO",
			},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, fmt.Errorf("directory: encode query: %w", err)
	}

	res, err := d.ES.Search(
		d.ES.Search.WithContext(ctx),
		d.ES.Search.WithIndex(d.Index),
		d.ES.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("directory: search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, nil, fmt.Errorf("directory: search: %s", res.Status())
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Entry `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, fmt.Errorf("directory: decode: %w", err)
	}

	entries := make([]Entry, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		entries[i] = hit.Source
	}
	return r.Hits.Total.Value, entries, nil
}
