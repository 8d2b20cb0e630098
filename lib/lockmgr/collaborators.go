package lockmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// --------------------------------------------------------------------------
// Authorization
// --------------------------------------------------------------------------

// Authorizer decides whether a membership may edit a document
type Authorizer interface {
	CanEdit(ctx context.Context, membershipID, documentID string) (bool, error)
}

// AllowAllAuthorizer permits every membership
type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) CanEdit(context.Context, string, string) (bool, error) {
	return true, nil
}

// StaticAuthorizer permits the memberships listed per document. Members of the
// document "*" may edit every document.
type StaticAuthorizer struct {
	members  map[string]map[string]struct{}
	foldCase bool // document keys are lower case, match ids case-insensitively
}

// NewStaticAuthorizer creates an authorizer from a document -> members map
func NewStaticAuthorizer(documents map[string][]string) *StaticAuthorizer {
	a := &StaticAuthorizer{members: make(map[string]map[string]struct{}, len(documents))}
	for doc, members := range documents {
		set := make(map[string]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		a.members[doc] = set
	}
	return a
}

// LoadStaticAuthorizer reads the "documents" table of a members file
// (yaml, json or toml) e.g.
//
//	documents:
//	  spec-42: [alice, bob]
//	  "*": [admin]
//
// Keys are read through viper, which lower-cases them, so documents of a
// members file are matched case-insensitively.
func LoadStaticAuthorizer(path string) (*StaticAuthorizer, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read members file %s: %w", path, err)
	}
	documents := v.GetStringMapStringSlice("documents")
	if len(documents) == 0 {
		return nil, fmt.Errorf("members file %s has no documents", path)
	}
	a := NewStaticAuthorizer(documents)
	a.foldCase = true
	return a, nil
}

func (a *StaticAuthorizer) CanEdit(_ context.Context, membershipID, documentID string) (bool, error) {
	if a.foldCase {
		documentID = strings.ToLower(documentID)
	}
	if _, ok := a.members[documentID][membershipID]; ok {
		return true, nil
	}
	_, ok := a.members["*"][membershipID]
	return ok, nil
}

// --------------------------------------------------------------------------
// Content flush
// --------------------------------------------------------------------------

// ContentFlusher persists the pending edits of an outgoing holder. Flush is
// called during the cleanup phase; ctx expires with the cleanup window.
type ContentFlusher interface {
	Flush(ctx context.Context, documentID, holderMembershipID string) error
}

// FlusherFunc adapts a function to the ContentFlusher interface
type FlusherFunc func(ctx context.Context, documentID, holderMembershipID string) error

func (f FlusherFunc) Flush(ctx context.Context, documentID, holderMembershipID string) error {
	return f(ctx, documentID, holderMembershipID)
}

// NoopFlusher completes immediately
type NoopFlusher struct{}

func (NoopFlusher) Flush(context.Context, string, string) error { return nil }

// WebhookFlusher asks an external service to persist the pending edits by
// posting {documentId, membershipId} as json. Any 2xx status is a success.
type WebhookFlusher struct {
	URL    string
	Client *http.Client
}

func NewWebhookFlusher(url string, timeout time.Duration) *WebhookFlusher {
	return &WebhookFlusher{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (f *WebhookFlusher) Flush(ctx context.Context, documentID, holderMembershipID string) error {
	body, err := json.Marshal(map[string]string{
		"documentId":   documentID,
		"membershipId": holderMembershipID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create flush request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("flush request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("flush request failed with status %d", resp.StatusCode)
	}
	return nil
}
