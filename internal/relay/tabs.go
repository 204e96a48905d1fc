package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Tab is an open extension UI surface
type Tab struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// TabManager opens and focuses extension UI surfaces
type TabManager interface {
	// Query returns tabs whose URL contains urlContains
	Query(ctx context.Context, urlContains string) ([]Tab, error)
	Open(ctx context.Context, url string) (Tab, error)
	Focus(ctx context.Context, id string) error
}

// MemoryTabs is an in-process TabManager used headless and in tests
type MemoryTabs struct {
	mu     sync.Mutex
	tabs   []Tab
	nextID int
	opened int
}

// NewMemoryTabs creates an empty tab set
func NewMemoryTabs() *MemoryTabs {
	return &MemoryTabs{}
}

func (m *MemoryTabs) Query(ctx context.Context, urlContains string) ([]Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Tab
	for _, t := range m.tabs {
		if strings.Contains(t.URL, urlContains) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryTabs) Open(ctx context.Context, url string) (Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.opened++
	for i := range m.tabs {
		m.tabs[i].Active = false
	}
	t := Tab{ID: fmt.Sprintf("tab-%d", m.nextID), URL: url, Active: true}
	m.tabs = append(m.tabs, t)
	return t, nil
}

func (m *MemoryTabs) Focus(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for i := range m.tabs {
		m.tabs[i].Active = m.tabs[i].ID == id
		found = found || m.tabs[i].Active
	}
	if !found {
		return fmt.Errorf("tab %s not found", id)
	}
	return nil
}

// Close removes a tab
func (m *MemoryTabs) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range m.tabs {
		if t.ID == id {
			m.tabs = append(m.tabs[:i], m.tabs[i+1:]...)
			return
		}
	}
}

// Opened returns how many tabs were ever opened
func (m *MemoryTabs) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Tabs returns a snapshot of open tabs
func (m *MemoryTabs) Tabs() []Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Tab(nil), m.tabs...)
}

// showUI focuses the first tab whose URL contains target, or opens one
func showUI(ctx context.Context, tabs TabManager, target string) (Tab, error) {
	existing, err := tabs.Query(ctx, target)
	if err != nil {
		return Tab{}, fmt.Errorf("failed to query tabs: %w", err)
	}
	if len(existing) > 0 {
		if err := tabs.Focus(ctx, existing[0].ID); err != nil {
			return Tab{}, fmt.Errorf("failed to focus tab: %w", err)
		}
		return existing[0], nil
	}
	t, err := tabs.Open(ctx, target)
	if err != nil {
		return Tab{}, fmt.Errorf("failed to open tab: %w", err)
	}
	return t, nil
}
