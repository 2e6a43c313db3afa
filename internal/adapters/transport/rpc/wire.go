package rpc

import (
	"fmt"
	"sort"
	"time"

	"github.com/bnema/rexd/internal/domain"
)

const (
	MethodExecute  = "execute"
	MethodHealth   = "health"
	MethodSessions = "sessions"

	// SessionIDKey is the reserved result key carrying a retained session id.
	SessionIDKey = "__sessionId"
)

type Request struct {
	ID     uint64     `cbor:"id"`
	Method string     `cbor:"method"`
	Params RawMessage `cbor:"params,omitempty"`
}

type Response struct {
	ID     uint64     `cbor:"id"`
	Error  *string    `cbor:"error"`
	Result RawMessage `cbor:"result"`
}

type Item struct {
	Data        map[string]any `cbor:"data" json:"data"`
	Attachments map[string]any `cbor:"attachments" json:"attachments"`
}

type Metadata struct {
	ScopeID                 string `cbor:"scopeId" json:"scopeId"`
	ScopeName               string `cbor:"scopeName" json:"scopeName"`
	JobID                   string `cbor:"jobId" json:"jobId"`
	CallerID                string `cbor:"callerId" json:"callerId"`
	CallerName              string `cbor:"callerName" json:"callerName"`
	WantsRetentionOfContext bool   `cbor:"wantsRetentionOfContext" json:"wantsRetentionOfContext"`
	WantsRetentionOfPages   bool   `cbor:"wantsRetentionOfPages" json:"wantsRetentionOfPages"`
	ExplicitSessionID       string `cbor:"explicitSessionId,omitempty" json:"explicitSessionId,omitempty"`
	ExplicitContextName     string `cbor:"explicitContextName,omitempty" json:"explicitContextName,omitempty"`
	AutoCapture             bool   `cbor:"autoCapture" json:"autoCapture"`
}

type ExecuteParams struct {
	Code     string   `cbor:"code"`
	Inputs   [][]Item `cbor:"inputs"`
	Metadata Metadata `cbor:"metadata"`
}

// ExecuteResult is the client-side view of an execute result.
type ExecuteResult struct {
	Channels  map[string][]Item `json:"channels"`
	SessionID string            `json:"sessionId,omitempty"`

	order []string
}

type HealthStatus struct {
	Status    string `cbor:"status" json:"status"`
	Timestamp string `cbor:"timestamp" json:"timestamp"`
	Version   string `cbor:"version" json:"version"`
	Sessions  int    `cbor:"sessions" json:"sessions"`
}

type SessionSummary struct {
	ID            string    `cbor:"id" json:"id"`
	ScopeID       string    `cbor:"scopeId" json:"scopeId"`
	JobID         string    `cbor:"jobId" json:"jobId"`
	LastJobID     string    `cbor:"lastJobId" json:"lastJobId"`
	Persistent    bool      `cbor:"persistent" json:"persistent"`
	Live          bool      `cbor:"live" json:"live"`
	Contexts      int       `cbor:"contexts" json:"contexts"`
	Pages         int       `cbor:"pages" json:"pages"`
	NamedContexts []string  `cbor:"namedContexts" json:"namedContexts"`
	CreatedAt     time.Time `cbor:"createdAt" json:"createdAt"`
	LastUsedAt    time.Time `cbor:"lastUsedAt" json:"lastUsedAt"`
}

func (p ExecuteParams) toDomain() (domain.ExecutionRequest, error) {
	inputs := make([]domain.Batch, 0, len(p.Inputs))
	for _, batch := range p.Inputs {
		records := make(domain.Batch, 0, len(batch))
		for _, item := range batch {
			record := domain.NewRecord(item.Data)
			if item.Attachments != nil {
				record.Attachments = item.Attachments
			}
			records = append(records, record)
		}
		inputs = append(inputs, records)
	}

	m := p.Metadata
	req, err := domain.NewExecutionRequest(p.Code, inputs, domain.ExecutionMetadata{
		ScopeID:                 domain.ScopeID(m.ScopeID),
		ScopeName:               m.ScopeName,
		JobID:                   domain.JobID(m.JobID),
		CallerID:                m.CallerID,
		CallerName:              m.CallerName,
		WantsRetentionOfContext: m.WantsRetentionOfContext,
		WantsRetentionOfPages:   m.WantsRetentionOfPages,
		ExplicitSessionID:       domain.SessionID(m.ExplicitSessionID),
		ExplicitContextName:     m.ExplicitContextName,
		AutoCapture:             m.AutoCapture,
	})
	if err != nil {
		return domain.ExecutionRequest{}, fmt.Errorf("invalid execute params: %w", err)
	}
	return req, nil
}

// encodeResult flattens a result into the wire mapping, channels first in
// the order the fragment produced them.
func encodeResult(result domain.Result) orderedMap {
	var out orderedMap
	for _, channel := range result.Channels {
		items := make([]Item, 0, len(channel.Records))
		for _, record := range channel.Records {
			items = append(items, Item{Data: nonNil(record.Data), Attachments: nonNil(record.Attachments)})
		}
		out.set(channel.Channel, items)
	}
	if result.SessionID != "" {
		out.set(SessionIDKey, string(result.SessionID))
	}
	return out
}

func decodeResult(raw RawMessage) (ExecuteResult, error) {
	pairs, err := decodeOrderedMap(raw)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("decode execute result: %w", err)
	}

	result := ExecuteResult{Channels: make(map[string][]Item, len(pairs)), order: []string{}}
	for _, pair := range pairs {
		if pair.key == SessionIDKey {
			if err := Unmarshal(pair.value, &result.SessionID); err != nil {
				return ExecuteResult{}, fmt.Errorf("decode session id: %w", err)
			}
			continue
		}
		var items []Item
		if err := Unmarshal(pair.value, &items); err != nil {
			return ExecuteResult{}, fmt.Errorf("decode channel %q: %w", pair.key, err)
		}
		if items == nil {
			items = []Item{}
		}
		if _, seen := result.Channels[pair.key]; !seen {
			result.order = append(result.order, pair.key)
		}
		result.Channels[pair.key] = items
	}
	return result, nil
}

func encodeHealth(health domain.Health) HealthStatus {
	return HealthStatus{
		Status:    health.Status,
		Timestamp: health.Timestamp.UTC().Format(time.RFC3339Nano),
		Version:   health.Version,
		Sessions:  health.Sessions,
	}
}

func encodeSessions(infos []domain.SessionInfo) []SessionSummary {
	out := make([]SessionSummary, 0, len(infos))
	for _, info := range infos {
		named := info.NamedContexts
		if named == nil {
			named = []string{}
		}
		out = append(out, SessionSummary{
			ID:            string(info.ID),
			ScopeID:       string(info.ScopeID),
			JobID:         string(info.JobID),
			LastJobID:     string(info.LastJobID),
			Persistent:    info.Persistent,
			Live:          info.Live,
			Contexts:      info.Contexts,
			Pages:         info.Pages,
			NamedContexts: named,
			CreatedAt:     info.CreatedAt,
			LastUsedAt:    info.LastUsedAt,
		})
	}
	return out
}

// ChannelNames returns the channel ids in the order the server sent them.
// Results built by hand list them sorted.
func (r ExecuteResult) ChannelNames() []string {
	if r.order != nil {
		return append([]string(nil), r.order...)
	}
	names := make([]string, 0, len(r.Channels))
	for name := range r.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
