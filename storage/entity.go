package storage

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

const (
	rowRequirements = "requirements"
	rowWorkflow     = "workflow"
	rowIndex        = "index"

	// Table string properties hold at most 32K UTF-16 units. A UTF-8 chunk
	// of chunkSize bytes never exceeds that.
	chunkSize = 30000
)

// documentMeta is the typed part of a stored document row. The JSON body is
// spread over Data, Data1, Data2, ... when it exceeds chunkSize.
type documentMeta struct {
	PartitionKey   string `json:"PartitionKey"`
	RowKey         string `json:"RowKey"`
	OrganizationID string `json:"OrganizationId"`
	Parts          int    `json:"Parts"`
}

func dataProperty(i int) string {
	if i == 0 {
		return "Data"
	}
	return "Data" + strconv.Itoa(i)
}

// encodeDocument renders doc as a table entity under pk/rk.
func encodeDocument(pk, rk, orgID string, doc any) ([]byte, error) {
	body, err := sonic.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rk, err)
	}
	parts := splitChunks(string(body), chunkSize)
	ent := map[string]any{
		"PartitionKey":   pk,
		"RowKey":         rk,
		"OrganizationId": orgID,
		"Parts":          len(parts),
	}
	for i, p := range parts {
		ent[dataProperty(i)] = p
	}
	return sonic.Marshal(ent)
}

// decodeDocument reassembles the JSON body of a stored row into v.
func decodeDocument(raw []byte, v any) (documentMeta, error) {
	var meta documentMeta
	if err := sonic.Unmarshal(raw, &meta); err != nil {
		return documentMeta{}, err
	}
	var props map[string]any
	if err := sonic.Unmarshal(raw, &props); err != nil {
		return documentMeta{}, err
	}
	parts := meta.Parts
	if parts <= 0 {
		parts = 1
	}
	var body []byte
	for i := 0; i < parts; i++ {
		s, ok := props[dataProperty(i)].(string)
		if !ok {
			return documentMeta{}, fmt.Errorf("document %s/%s: missing %s", meta.PartitionKey, meta.RowKey, dataProperty(i))
		}
		body = append(body, s...)
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return documentMeta{}, fmt.Errorf("decode %s/%s: %w", meta.PartitionKey, meta.RowKey, err)
	}
	return meta, nil
}

// splitChunks cuts s into pieces of at most size bytes without splitting a
// UTF-8 sequence.
func splitChunks(s string, size int) []string {
	if len(s) <= size {
		return []string{s}
	}
	var out []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
