package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sells-group/crm-cleanse/pkg/anthropic"
	"github.com/sells-group/crm-cleanse/pkg/hubspot"
)

// structuredReply is one canned answer for mockAI.CreateStructured.
type structuredReply struct {
	raw   json.RawMessage
	usage anthropic.TokenUsage
	err   error
}

// mockAI returns canned structured replies in order and records the tool
// names it was asked for.
type mockAI struct {
	replies   []structuredReply
	toolNames []string
}

func (m *mockAI) CreateStructured(ctx context.Context, req anthropic.StructuredRequest) (json.RawMessage, anthropic.TokenUsage, error) {
	m.toolNames = append(m.toolNames, req.ToolName)
	if len(m.replies) == 0 {
		return nil, anthropic.TokenUsage{}, fmt.Errorf("unexpected CreateStructured call for %s", req.ToolName)
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply.raw, reply.usage, reply.err
}

func reply(v any) structuredReply {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return structuredReply{raw: raw, usage: anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50}}
}

// mockCRM records every store call and serves canned data.
type mockCRM struct {
	searchResults []hubspot.Record
	searchErr     error
	fetchRecords  map[string]*hubspot.Record
	fetchErr      error
	updateErr     error
	mergeErr      error
	archiveErr    error

	searchCalls  []hubspot.SearchRequest
	updateCalls  []updateCall
	mergeCalls   []mergeCall
	archiveCalls []string
}

type updateCall struct {
	id         string
	properties map[string]string
}

type mergeCall struct {
	primaryID string
	mergedID  string
}

func (m *mockCRM) Search(ctx context.Context, req hubspot.SearchRequest) ([]hubspot.Record, error) {
	m.searchCalls = append(m.searchCalls, req)
	return m.searchResults, m.searchErr
}

func (m *mockCRM) Fetch(ctx context.Context, id string, properties []string) (*hubspot.Record, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if rec, ok := m.fetchRecords[id]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("no canned record for id %s", id)
}

func (m *mockCRM) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := m.fetchRecords[id]
	return ok, nil
}

func (m *mockCRM) Update(ctx context.Context, id string, properties map[string]string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updateCalls = append(m.updateCalls, updateCall{id: id, properties: properties})
	return nil
}

func (m *mockCRM) Merge(ctx context.Context, primaryID, mergedID string) error {
	if m.mergeErr != nil {
		return m.mergeErr
	}
	m.mergeCalls = append(m.mergeCalls, mergeCall{primaryID: primaryID, mergedID: mergedID})
	return nil
}

func (m *mockCRM) Archive(ctx context.Context, id string) error {
	if m.archiveErr != nil {
		return m.archiveErr
	}
	m.archiveCalls = append(m.archiveCalls, id)
	return nil
}
