package numbering

import (
	"fmt"
	"sync"
)

// MemoryGenerator issues numbers from in-process counters. Used by tests
// and by mock repositories in place of the document_counters table.
type MemoryGenerator struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryGenerator constructs an empty generator.
func NewMemoryGenerator() *MemoryGenerator {
	return &MemoryGenerator{counters: make(map[string]int64)}
}

// Next issues the next number for docType.
func (g *MemoryGenerator) Next(docType string) (string, error) {
	if _, ok := prefixes[docType]; !ok {
		return "", fmt.Errorf("numbering: unknown document type %q", docType)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[docType]++
	return Format(docType, g.counters[docType]), nil
}
