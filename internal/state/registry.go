package state

import (
	"fmt"

	"github.com/google/uuid"
)

// TotalBps is the full ownership of the community in basis points.
const TotalBps int64 = 10000

// Member is a registered participant. A member with OwnershipBps == 0 is a
// pseudo-account (the community fund is registered this way): it can own
// devices and consume, but never receives proportional allocation.
type Member struct {
	Addr         uuid.UUID
	OwnershipBps int64
	Devices      []uint64
	Active       bool
}

// Registry tracks members, device ownership and the reserved device roles.
// Mutated only by the deterministic core.
type Registry struct {
	members map[uuid.UUID]*Member
	order   []uuid.UUID // insertion order; rounding remainders go to the last active member
	devices map[uint64]uuid.UUID

	communityDeviceID uint64
	exportDeviceID    uint64
	exportPrice       int64 // cents; 0 = unset, export falls back to batch price
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[uuid.UUID]*Member),
		devices: make(map[uint64]uuid.UUID),
	}
}

// AddMember registers a member with its devices and ownership share.
func (r *Registry) AddMember(addr uuid.UUID, deviceIDs []uint64, ownershipBps int64) error {
	if addr == uuid.Nil {
		return ErrNilAddress
	}
	if ownershipBps < 0 || ownershipBps > TotalBps {
		return fmt.Errorf("%w: %d", ErrInvalidShare, ownershipBps)
	}
	if m, exists := r.members[addr]; exists && m.Active {
		return ErrMemberExists
	}
	if r.TotalActiveBps()+ownershipBps > TotalBps {
		return ErrOwnershipExceeded
	}
	for _, id := range deviceIDs {
		if _, taken := r.devices[id]; taken {
			return fmt.Errorf("%w: %d", ErrDeviceAssigned, id)
		}
	}

	m := &Member{
		Addr:         addr,
		OwnershipBps: ownershipBps,
		Devices:      append([]uint64(nil), deviceIDs...),
		Active:       true,
	}
	r.members[addr] = m
	r.order = append(r.order, addr)
	for _, id := range deviceIDs {
		r.devices[id] = addr
	}
	return nil
}

// RemoveMember deactivates a member and releases its devices.
func (r *Registry) RemoveMember(addr uuid.UUID) error {
	m, exists := r.members[addr]
	if !exists || !m.Active {
		return ErrUnknownMember
	}

	for _, id := range m.Devices {
		delete(r.devices, id)
		if r.communityDeviceID == id {
			r.communityDeviceID = 0
		}
	}
	m.Active = false
	m.Devices = nil
	return nil
}

// SetCommunityDeviceID designates the device whose owner acts as the
// community pseudo-account. The device must already be registered.
func (r *Registry) SetCommunityDeviceID(id uint64) error {
	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	r.communityDeviceID = id
	return nil
}

// SetExportDeviceID designates the pseudo-device representing grid export.
// It must not belong to a member.
func (r *Registry) SetExportDeviceID(id uint64) error {
	if _, taken := r.devices[id]; taken {
		return fmt.Errorf("%w: %d", ErrDeviceAssigned, id)
	}
	r.exportDeviceID = id
	return nil
}

// SetExportPrice sets the price (cents) credited per unit exported.
func (r *Registry) SetExportPrice(price int64) {
	r.exportPrice = price
}

// DeviceOwner returns the member owning a device.
func (r *Registry) DeviceOwner(id uint64) (uuid.UUID, bool) {
	addr, ok := r.devices[id]
	return addr, ok
}

// IsMember reports whether addr is an active member.
func (r *Registry) IsMember(addr uuid.UUID) bool {
	m, ok := r.members[addr]
	return ok && m.Active
}

// Member returns a member by address.
func (r *Registry) Member(addr uuid.UUID) (*Member, bool) {
	m, ok := r.members[addr]
	if !ok || !m.Active {
		return nil, false
	}
	return m, true
}

// ActiveMembers returns active members in registration order.
func (r *Registry) ActiveMembers() []*Member {
	out := make([]*Member, 0, len(r.order))
	for _, addr := range r.order {
		if m := r.members[addr]; m.Active {
			out = append(out, m)
		}
	}
	return out
}

// TotalActiveBps returns the sum of all active members' shares.
func (r *Registry) TotalActiveBps() int64 {
	var total int64
	for _, addr := range r.order {
		if m := r.members[addr]; m.Active {
			total += m.OwnershipBps
		}
	}
	return total
}

// CommunityDeviceID returns the configured community device (0 = unset).
func (r *Registry) CommunityDeviceID() uint64 { return r.communityDeviceID }

// ExportDeviceID returns the configured export device (0 = unset).
func (r *Registry) ExportDeviceID() uint64 { return r.exportDeviceID }

// ExportPrice returns the configured export price (0 = unset).
func (r *Registry) ExportPrice() int64 { return r.exportPrice }

// CommunityAddr returns the owner of the community device.
func (r *Registry) CommunityAddr() (uuid.UUID, bool) {
	if r.communityDeviceID == 0 {
		return uuid.Nil, false
	}
	addr, ok := r.devices[r.communityDeviceID]
	return addr, ok
}

// --- Snapshot / Restore ---

// MemberSnapshot is the serializable form of a member (includes inactive
// members so restoration preserves registration order).
type MemberSnapshot struct {
	Addr         string   `json:"addr"`
	OwnershipBps int64    `json:"ownership_bps"`
	Devices      []uint64 `json:"devices"`
	Active       bool     `json:"active"`
}

// RegistrySnapshot is the serializable form of the registry.
type RegistrySnapshot struct {
	Members           []MemberSnapshot `json:"members"`
	CommunityDeviceID uint64           `json:"community_device_id"`
	ExportDeviceID    uint64           `json:"export_device_id"`
	ExportPrice       int64            `json:"export_price"`
}

// Snapshot captures the registry in registration order.
func (r *Registry) Snapshot() RegistrySnapshot {
	snap := RegistrySnapshot{
		Members:           make([]MemberSnapshot, 0, len(r.order)),
		CommunityDeviceID: r.communityDeviceID,
		ExportDeviceID:    r.exportDeviceID,
		ExportPrice:       r.exportPrice,
	}
	for _, addr := range r.order {
		m := r.members[addr]
		snap.Members = append(snap.Members, MemberSnapshot{
			Addr:         m.Addr.String(),
			OwnershipBps: m.OwnershipBps,
			Devices:      append([]uint64(nil), m.Devices...),
			Active:       m.Active,
		})
	}
	return snap
}

// Restore replaces registry contents from a snapshot.
func (r *Registry) Restore(snap RegistrySnapshot) error {
	fresh := NewRegistry()
	for _, ms := range snap.Members {
		addr, err := uuid.Parse(ms.Addr)
		if err != nil {
			return fmt.Errorf("invalid member address %q: %w", ms.Addr, err)
		}
		m := &Member{
			Addr:         addr,
			OwnershipBps: ms.OwnershipBps,
			Devices:      append([]uint64(nil), ms.Devices...),
			Active:       ms.Active,
		}
		fresh.members[addr] = m
		fresh.order = append(fresh.order, addr)
		if m.Active {
			for _, id := range m.Devices {
				fresh.devices[id] = addr
			}
		}
	}
	fresh.communityDeviceID = snap.CommunityDeviceID
	fresh.exportDeviceID = snap.ExportDeviceID
	fresh.exportPrice = snap.ExportPrice
	*r = *fresh
	return nil
}
