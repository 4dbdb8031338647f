package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultscope/src/contracts"
	"faultscope/src/errkind"
	"faultscope/src/keyword"
	"faultscope/src/pipeline"
	"faultscope/src/store"
)

type stubEngine struct {
	lastFault  pipeline.FaultQuery
	lastStats  pipeline.StatsQuery
	lastSearch pipeline.SearchQuery
	err        error
}

func (s *stubEngine) QueryFault(ctx context.Context, q pipeline.FaultQuery) (*contracts.Report, error) {
	s.lastFault = q
	if s.err != nil {
		return nil, s.err
	}
	return &contracts.Report{
		ID:      "fault-report",
		FaultID: "0x0165",
		Mode:    contracts.ModeLocal,
		Records: []contracts.OccurrenceRecord{{FaultID: "0x0165", OccurrenceCount: intPtr(2), Level: strPtr("0x3")}},
	}, nil
}

func (s *stubEngine) Stats(ctx context.Context, q pipeline.StatsQuery) (*contracts.Report, error) {
	s.lastStats = q
	if s.err != nil {
		return nil, s.err
	}
	return &contracts.Report{
		ID: "stats-report",
		Records: []contracts.OccurrenceRecord{
			{FaultID: "0x0165", OccurrenceCount: intPtr(1)},
			{FaultID: "0x0200", OccurrenceCount: intPtr(1), Open: true},
		},
	}, nil
}

func (s *stubEngine) Search(ctx context.Context, q pipeline.SearchQuery) (*contracts.SearchResult, error) {
	s.lastSearch = q
	if s.err != nil {
		return nil, s.err
	}
	return &contracts.SearchResult{
		ID:      "search",
		Matches: []contracts.MatchedLine{{LineNumber: 3, RawText: "brake warning"}},
	}, nil
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func texts(t *testing.T, res *mcp.CallToolResult) []string {
	t.Helper()
	var out []string
	for _, c := range res.Content {
		tc, ok := c.(mcp.TextContent)
		require.True(t, ok, "unexpected content %T", c)
		out = append(out, tc.Text)
	}
	return out
}

func TestHandleQueryFault(t *testing.T) {
	engine := &stubEngine{}
	st := store.NewMemoryStore()
	srv := NewServer(engine, st, nil)
	ctx := context.Background()

	res, err := srv.handleQueryFault(ctx, call(map[string]any{
		"fault_id":      "165",
		"base_path":     "/cap",
		"force_refresh": true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, "165", engine.lastFault.FaultID)
	assert.Equal(t, "/cap", engine.lastFault.BasePath)
	assert.True(t, engine.lastFault.ForceRefresh)

	blocks := texts(t, res)
	require.Len(t, blocks, 2)
	assert.Contains(t, blocks[0], "0x0165")

	var m Manifest
	require.NoError(t, json.Unmarshal([]byte(blocks[1]), &m))
	assert.Equal(t, "fault-report", m.ReportID)
	assert.Equal(t, "recurring", m.Records[0].Tier)

	saved, err := st.GetReport(ctx, "fault-report")
	require.NoError(t, err)
	assert.Equal(t, "0x0165", saved.FaultID)

	// get_report returns the saved report.
	res, err = srv.handleGetReport(ctx, call(map[string]any{"report_id": "fault-report"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	var doc struct {
		Records []contracts.OccurrenceRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(texts(t, res)[0]), &doc))
	assert.Len(t, doc.Records, 1)
}

func TestHandleQueryFaultJSONFormat(t *testing.T) {
	srv := NewServer(&stubEngine{}, nil, nil)

	res, err := srv.handleQueryFault(context.Background(), call(map[string]any{
		"fault_id":  "165",
		"base_path": "/cap",
		"format":    "json",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(texts(t, res)[0]), &doc))
	assert.Contains(t, doc, "records")
	assert.Contains(t, doc, "filterStatistics")
}

func TestHandleQueryFaultErrors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		err  error
	}{
		{name: "missing fault id", args: map[string]any{"base_path": "/cap"}},
		{name: "missing base path", args: map[string]any{"fault_id": "165"}},
		{name: "bad format", args: map[string]any{"fault_id": "165", "base_path": "/cap", "format": "xml"}},
		{
			name: "engine failure",
			args: map[string]any{"fault_id": "165", "base_path": "/cap"},
			err:  errkind.Newf(errkind.ArtifactNotFound, "locate", "/cap", "no snapshot directory"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&stubEngine{err: tt.err}, nil, nil)
			res, err := srv.handleQueryFault(context.Background(), call(tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			if tt.err != nil {
				assert.Contains(t, texts(t, res)[0], "artifact_not_found")
			}
		})
	}
}

func TestHandleFaultStats(t *testing.T) {
	engine := &stubEngine{}
	srv := NewServer(engine, nil, nil)

	res, err := srv.handleFaultStats(context.Background(), call(map[string]any{
		"base_path": "/cap",
		"keywords":  []any{"brake", "sensor"},
		"logic":     "or",
		"fuzzy":     true,
		"limit":     1,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, []string{"brake", "sensor"}, engine.lastStats.Keywords)
	assert.Equal(t, keyword.Or, engine.lastStats.Logic)
	assert.True(t, engine.lastStats.Fuzzy)

	var m Manifest
	require.NoError(t, json.Unmarshal([]byte(texts(t, res)[1]), &m))
	require.Len(t, m.Records, 1)
	assert.Equal(t, "0x0200", m.Records[0].FaultID)
	assert.Equal(t, 1, m.Truncated)

	res, err = srv.handleFaultStats(context.Background(), call(map[string]any{"base_path": "/cap", "logic": "xor"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleSearchLogs(t *testing.T) {
	engine := &stubEngine{}
	srv := NewServer(engine, nil, nil)

	res, err := srv.handleSearchLogs(context.Background(), call(map[string]any{
		"base_path":     "/cap",
		"keywords":      []any{"brake"},
		"context_lines": 2,
		"max_results":   5,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, 2, engine.lastSearch.ContextLines)
	assert.Equal(t, 5, engine.lastSearch.MaxResults)
	assert.Equal(t, keyword.And, engine.lastSearch.Logic)

	blocks := texts(t, res)
	assert.Contains(t, blocks[0], "brake warning")
	var m SearchManifest
	require.NoError(t, json.Unmarshal([]byte(blocks[1]), &m))
	assert.Len(t, m.Matches, 1)

	res, err = srv.handleSearchLogs(context.Background(), call(map[string]any{"base_path": "/cap"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleGetReportNotFound(t *testing.T) {
	srv := NewServer(&stubEngine{}, nil, nil)

	res, err := srv.handleGetReport(context.Background(), call(map[string]any{"report_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, texts(t, res)[0], "report not found")
}
