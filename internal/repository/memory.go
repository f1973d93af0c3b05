package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/validation"
)

// MemoryStore is an in-process PolicyStore for development and tests.
// A single mutex serializes every write, which gives Settle the same
// no-lost-update guarantee as the row lock in PostgresDB.
type MemoryStore struct {
	mu sync.Mutex

	dapps     map[string]*models.DApp
	apiKeys   map[string]*models.APIKey
	usages    map[string]*models.ContractUsage // dappID|address
	txLogs    []*models.TransactionLog
	alerts    map[string]*models.EmailAlert
	alertLogs []*models.EmailAlertLog

	// orphans are removed DApps whose whitelist rows are still referenced.
	orphans []*models.DApp
}

var _ models.PolicyStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dapps:   make(map[string]*models.DApp),
		apiKeys: make(map[string]*models.APIKey),
		usages:  make(map[string]*models.ContractUsage),
		alerts:  make(map[string]*models.EmailAlert),
	}
}

// Seed is the JSON fixture format accepted by LoadSeedFile.
type Seed struct {
	DApps  []models.DApp       `json:"dapps"`
	Keys   []SeedAPIKey        `json:"apiKeys"`
	Alerts []models.EmailAlert `json:"alerts"`
}

// SeedAPIKey carries the key material that models.APIKey never serializes.
type SeedAPIKey struct {
	DAppID string `json:"dappId"`
	Key    string `json:"key"`
	Active bool   `json:"active"`
}

// LoadSeedFile populates the store from a JSON fixture.
func (m *MemoryStore) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i := range seed.DApps {
		m.AddDApp(&seed.DApps[i])
	}
	for _, k := range seed.Keys {
		m.AddAPIKey(&models.APIKey{DAppID: k.DAppID, Key: k.Key, Active: k.Active})
	}
	for i := range seed.Alerts {
		m.AddAlert(&seed.Alerts[i])
	}
	return nil
}

// AddDApp stores a copy of dapp, normalizing whitelist addresses.
func (m *MemoryStore) AddDApp(dapp *models.DApp) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := *dapp
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.Contracts = append([]models.Contract(nil), dapp.Contracts...)
	for i := range d.Contracts {
		d.Contracts[i].DAppID = d.ID
		d.Contracts[i].Address = validation.NormalizeAddress(d.Contracts[i].Address)
		if d.Contracts[i].ID == "" {
			d.Contracts[i].ID = uuid.NewString()
		}
		if d.Contracts[i].SwapAddress != nil {
			swap := validation.NormalizeAddress(*d.Contracts[i].SwapAddress)
			d.Contracts[i].SwapAddress = &swap
		}
	}
	d.Senders = append([]models.Sender(nil), dapp.Senders...)
	for i := range d.Senders {
		d.Senders[i].DAppID = d.ID
		d.Senders[i].Address = validation.NormalizeAddress(d.Senders[i].Address)
		if d.Senders[i].ID == "" {
			d.Senders[i].ID = uuid.NewString()
		}
	}
	d.APIKeys = nil
	m.dapps[d.ID] = &d
	dapp.ID = d.ID
}

func (m *MemoryStore) AddAPIKey(key *models.APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := *key
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	m.apiKeys[k.Key] = &k
}

func (m *MemoryStore) AddAlert(alert *models.EmailAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := *alert
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.alerts[a.ID] = &a
	alert.ID = a.ID
}

// RemoveDApp deletes the DApp record but keeps its keys and whitelist
// references dangling. Tests use it to model an inconsistent store.
func (m *MemoryStore) RemoveDApp(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dapp, ok := m.dapps[id]
	if !ok {
		return
	}
	delete(m.dapps, id)
	m.orphans = append(m.orphans, dapp)
}

func (m *MemoryStore) hasActiveKey(dappID string) bool {
	for _, k := range m.apiKeys {
		if k.DAppID == dappID && k.Active {
			return true
		}
	}
	return false
}

// allDApps includes orphaned DApps so their whitelist entries stay visible.
func (m *MemoryStore) allDApps() []*models.DApp {
	out := make([]*models.DApp, 0, len(m.dapps)+len(m.orphans))
	for _, d := range m.dapps {
		out = append(out, d)
	}
	out = append(out, m.orphans...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneDApp(d *models.DApp) *models.DApp {
	c := *d
	c.Contracts = append([]models.Contract(nil), d.Contracts...)
	c.Senders = append([]models.Sender(nil), d.Senders...)
	return &c
}

func (m *MemoryStore) FindDAppByAPIKey(_ context.Context, key string) (*models.DApp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.apiKeys[key]
	if !ok || !k.Active {
		return nil, nil
	}
	dapp, ok := m.dapps[k.DAppID]
	if !ok {
		return nil, nil
	}
	return cloneDApp(dapp), nil
}

func (m *MemoryStore) FindContractWhitelist(_ context.Context, address string) (*models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.allDApps() {
		if m.hasActiveKey(d.ID) {
			continue
		}
		for _, c := range d.Contracts {
			if c.Active && c.Address == address {
				found := c
				return &found, nil
			}
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindSenderWhitelist(_ context.Context, address string) (*models.Sender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.allDApps() {
		if m.hasActiveKey(d.ID) {
			continue
		}
		for _, s := range d.Senders {
			if s.Active && s.Address == address {
				found := s
				return &found, nil
			}
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetDApp(_ context.Context, id string) (*models.DApp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dapp, ok := m.dapps[id]
	if !ok {
		return nil, nil
	}
	return cloneDApp(dapp), nil
}

func (m *MemoryStore) Settle(_ context.Context, s *models.Settlement) (*models.SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dapp, ok := m.dapps[s.DAppID]
	if !ok {
		return nil, fmt.Errorf("dapp %s: %w", s.DAppID, ErrNotFound)
	}

	now := time.Now()
	dapp.Balance = dapp.Balance.Sub(s.Fee)
	dapp.TotalUsed = dapp.TotalUsed.Add(s.Fee)
	dapp.UpdatedAt = now

	usageKey := s.DAppID + "|" + s.Log.To
	usage, ok := m.usages[usageKey]
	if !ok {
		usage = &models.ContractUsage{
			ID:        uuid.NewString(),
			DAppID:    s.DAppID,
			Address:   s.Log.To,
			Used:      decimal.Zero,
			CreatedAt: now,
		}
		m.usages[usageKey] = usage
	}
	usage.Used = usage.Used.Add(s.Fee)
	usage.UpdatedAt = now

	entry := s.Log
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.DAppID = s.DAppID
	entry.Fee = s.Fee
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	m.txLogs = append(m.txLogs, &entry)

	return &models.SettlementResult{
		DAppID:    dapp.ID,
		DAppName:  dapp.Name,
		Balance:   dapp.Balance,
		TotalUsed: dapp.TotalUsed,
	}, nil
}

func (m *MemoryStore) GetContractUsages(_ context.Context, dappID string) ([]*models.ContractUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.ContractUsage
	for _, u := range m.usages {
		if u.DAppID == dappID {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (m *MemoryStore) ListActiveAlerts(_ context.Context, dappID string) ([]*models.EmailAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.EmailAlert
	for _, a := range m.alerts {
		if a.DAppID == dappID && a.IsActive {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ClaimAlert(_ context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok || !a.IsActive {
		return false, nil
	}
	if a.ClaimedUntil != nil && a.ClaimedUntil.After(now) {
		return false, nil
	}
	a.ClaimedUntil = &leaseUntil
	return true, nil
}

func (m *MemoryStore) ReleaseAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return fmt.Errorf("email alert %s: %w", id, ErrNotFound)
	}
	a.ClaimedUntil = nil
	return nil
}

func (m *MemoryStore) CompleteAlert(_ context.Context, entry *models.EmailAlertLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[entry.AlertID]
	if !ok {
		return fmt.Errorf("email alert %s: %w", entry.AlertID, ErrNotFound)
	}
	a.IsActive = false
	a.ClaimedUntil = nil

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	c := *entry
	m.alertLogs = append(m.alertLogs, &c)
	return nil
}

// TransactionLogs returns a snapshot of the appended logs.
func (m *MemoryStore) TransactionLogs() []*models.TransactionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.TransactionLog(nil), m.txLogs...)
}

// AlertLogs returns a snapshot of the dispatched alert logs.
func (m *MemoryStore) AlertLogs() []*models.EmailAlertLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.EmailAlertLog(nil), m.alertLogs...)
}

// Alert returns a copy of the alert with id.
func (m *MemoryStore) Alert(id string) (*models.EmailAlert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, false
	}
	c := *a
	return &c, true
}
