// Package host loads Go-native contracts and resolves the smart queries they
// send each other. Every chain of nested queries runs under three guards: a
// query stack limit, a shared gas budget and a deadline.
package host

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/dps_queryloop/src/vmtypes"
	logs "github.com/danmuck/smplog"
)

type CodeID uint64

type code struct {
	id       CodeID
	label    string
	contract vmtypes.Contract
}

// Stats counts smart queries since the host was created.
type Stats struct {
	Resolved     uint64 // queries that reached a contract
	Rejected     uint64 // queries stopped by a guard before reaching a contract
	MaxStackSeen uint32 // deepest stack position that reached a contract
}

type Host struct {
	config Config
	lock   sync.RWMutex

	codes        map[CodeID]*code
	codesByLabel map[string]CodeID
	contracts    map[vmtypes.Address]*ContractInfo

	lastCodeID     CodeID
	lastInstanceID uint64
	height         uint64

	resolved     atomic.Uint64
	rejected     atomic.Uint64
	maxStackSeen atomic.Uint32
}

var _ vmtypes.Querier = (*Host)(nil)

// New creates a Host after validating cfg. Stored metadata is not loaded
// until Reload, since codes have to be stored first.
func New(cfg Config) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.StorageDir != "" {
		if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	logs.Debugf("host.New(stack=%d gas=%d timeout=%s)", cfg.MaxQueryStackSize, cfg.QueryGasLimit, cfg.QueryTimeout)
	return &Host{
		config:       cfg,
		codes:        make(map[CodeID]*code),
		codesByLabel: make(map[string]CodeID),
		contracts:    make(map[vmtypes.Address]*ContractInfo),
	}, nil
}

func (h *Host) Config() Config {
	return h.config
}

// StoreCode registers a contract implementation under a unique label.
func (h *Host) StoreCode(label string, contract vmtypes.Contract) (CodeID, error) {
	if contract == nil {
		return 0, fmt.Errorf("store code %q: nil contract", label)
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	if _, exists := h.codesByLabel[label]; exists {
		return 0, fmt.Errorf("store code: label %q already stored", label)
	}

	h.lastCodeID++
	id := h.lastCodeID
	h.codes[id] = &code{id: id, label: label, contract: contract}
	h.codesByLabel[label] = id

	logs.Debugf("StoreCode(%s): code %d", label, id)
	return id, nil
}

// CodeByLabel returns the id a label was stored under.
func (h *Host) CodeByLabel(label string) (CodeID, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	id, ok := h.codesByLabel[label]
	return id, ok
}

// Reload restores instances from the storage dir whose code label has been
// stored. It returns how many instances were restored.
func (h *Host) Reload() (int, error) {
	infos, skipped, err := h.readContractInfos()
	if err != nil {
		return 0, err
	}
	for _, s := range skipped {
		logs.Warnf("Reload: skipping %s", s)
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	restored := 0
	for _, info := range infos {
		id, ok := h.codesByLabel[info.CodeLabel]
		if !ok {
			logs.Warnf("Reload: %s uses unknown code %q", info.Address, info.CodeLabel)
			continue
		}
		info.CodeID = id
		h.contracts[info.Address] = info
		if info.InstanceID > h.lastInstanceID {
			h.lastInstanceID = info.InstanceID
		}
		restored++
	}

	logs.Debugf("Reload(): %d restored, %d skipped", restored, len(infos)-restored+len(skipped))
	return restored, nil
}

// ContractInfo returns a copy of the metadata of addr.
func (h *Host) ContractInfo(addr vmtypes.Address) (ContractInfo, error) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	info, ok := h.contracts[addr]
	if !ok {
		return ContractInfo{}, fmt.Errorf("%w: %s", ErrNoSuchContract, addr)
	}
	return *info, nil
}

// Contracts lists every known instance ordered by instance id.
func (h *Host) Contracts() []ContractInfo {
	h.lock.RLock()
	defer h.lock.RUnlock()

	out := make([]ContractInfo, 0, len(h.contracts))
	for _, info := range h.contracts {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

func (h *Host) Stats() Stats {
	return Stats{
		Resolved:     h.resolved.Load(),
		Rejected:     h.rejected.Load(),
		MaxStackSeen: h.maxStackSeen.Load(),
	}
}

////////////////////////////////////////////////////////////////////////////////////////////
////////////////////////////////////////////////////////////////////////////////////////////

// Instantiate creates a new instance of codeID and runs its instantiate
// entry point. The instance is only registered if that succeeds.
func (h *Host) Instantiate(ctx context.Context, codeID CodeID, sender vmtypes.Address, label string, msg []byte) (vmtypes.Address, *vmtypes.Response, error) {
	h.lock.Lock()
	c, ok := h.codes[codeID]
	if !ok {
		h.lock.Unlock()
		return "", nil, fmt.Errorf("%w: %d", ErrNoSuchCode, codeID)
	}
	h.lastInstanceID++
	instanceID := h.lastInstanceID
	h.height++
	height := h.height
	h.lock.Unlock()

	addr := BuildContractAddress(codeID, instanceID)
	logs.Debugf("Instantiate(code=%d): %s", codeID, addr)

	resp, err := c.contract.Instantiate(ctx, h.deps(), h.env(addr, height), vmtypes.MessageInfo{Sender: sender}, msg)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInstantiateFailed, err)
	}

	info := &ContractInfo{
		Address:    addr,
		CodeID:     codeID,
		CodeLabel:  c.label,
		InstanceID: instanceID,
		Creator:    sender,
		Label:      label,
		Created:    time.Now().UTC(),
	}
	if err := h.writeContractInfo(info); err != nil {
		return "", nil, err
	}

	h.lock.Lock()
	h.contracts[addr] = info
	h.lock.Unlock()

	return addr, resp, nil
}

// Execute runs the execute entry point of addr.
func (h *Host) Execute(ctx context.Context, addr vmtypes.Address, sender vmtypes.Address, msg []byte) (*vmtypes.Response, error) {
	c, _, err := h.instance(addr)
	if err != nil {
		return nil, err
	}
	height := h.nextHeight()

	resp, err := c.contract.Execute(ctx, h.deps(), h.env(addr, height), vmtypes.MessageInfo{Sender: sender}, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecuteFailed, err)
	}
	return resp, nil
}

// Migrate runs the migrate entry point of newCodeID for addr and, on
// success, switches the instance to that code.
func (h *Host) Migrate(ctx context.Context, addr vmtypes.Address, newCodeID CodeID, msg []byte) (*vmtypes.Response, error) {
	_, info, err := h.instance(addr)
	if err != nil {
		return nil, err
	}

	h.lock.RLock()
	next, ok := h.codes[newCodeID]
	h.lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchCode, newCodeID)
	}
	height := h.nextHeight()

	resp, err := next.contract.Migrate(ctx, h.deps(), h.env(addr, height), msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	info.CodeID = next.id
	info.CodeLabel = next.label
	info.Migrated = time.Now().UTC()
	if err := h.writeContractInfo(&info); err != nil {
		return nil, err
	}

	h.lock.Lock()
	h.contracts[addr] = &info
	h.lock.Unlock()

	return resp, nil
}

// instance returns the code and a copy of the metadata of addr.
func (h *Host) instance(addr vmtypes.Address) (*code, ContractInfo, error) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	info, ok := h.contracts[addr]
	if !ok {
		return nil, ContractInfo{}, fmt.Errorf("%w: %s", ErrNoSuchContract, addr)
	}
	c, ok := h.codes[info.CodeID]
	if !ok {
		return nil, ContractInfo{}, fmt.Errorf("%w: %d", ErrNoSuchCode, info.CodeID)
	}
	return c, *info, nil
}

func (h *Host) nextHeight() uint64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.height++
	return h.height
}

func (h *Host) currentHeight() uint64 {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return h.height
}

func (h *Host) deps() vmtypes.Deps {
	return vmtypes.Deps{Querier: h}
}

func (h *Host) env(addr vmtypes.Address, height uint64) vmtypes.Env {
	return vmtypes.Env{
		Block: vmtypes.BlockInfo{
			Height: height,
			Time:   time.Now().UnixNano(),
		},
		Contract: vmtypes.ContractInfo{Address: addr},
	}
}
