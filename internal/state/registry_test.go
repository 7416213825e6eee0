package state_test

import (
	"errors"
	"testing"

	"GridLedger/internal/state"

	"github.com/google/uuid"
)

func TestRegistry_AddMember(t *testing.T) {
	r := state.NewRegistry()
	addr := uuid.New()

	if err := r.AddMember(addr, []uint64{1, 2}, 3000); err != nil {
		t.Fatalf("add member: %v", err)
	}

	if !r.IsMember(addr) {
		t.Error("member should be active")
	}
	if owner, ok := r.DeviceOwner(1); !ok || owner != addr {
		t.Errorf("device 1 owner: got %v/%v, want %v/true", owner, ok, addr)
	}
	if got := r.TotalActiveBps(); got != 3000 {
		t.Errorf("total bps: got %d, want 3000", got)
	}
}

func TestRegistry_AddMemberRejectsNilAddress(t *testing.T) {
	r := state.NewRegistry()
	if err := r.AddMember(uuid.Nil, nil, 1000); !errors.Is(err, state.ErrNilAddress) {
		t.Errorf("got %v, want ErrNilAddress", err)
	}
}

func TestRegistry_AddMemberRejectsDuplicate(t *testing.T) {
	r := state.NewRegistry()
	addr := uuid.New()
	if err := r.AddMember(addr, nil, 1000); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := r.AddMember(addr, nil, 1000); !errors.Is(err, state.ErrMemberExists) {
		t.Errorf("got %v, want ErrMemberExists", err)
	}
}

func TestRegistry_AddMemberRejectsShareOutOfRange(t *testing.T) {
	r := state.NewRegistry()
	if err := r.AddMember(uuid.New(), nil, -1); !errors.Is(err, state.ErrInvalidShare) {
		t.Errorf("negative share: got %v, want ErrInvalidShare", err)
	}
	if err := r.AddMember(uuid.New(), nil, state.TotalBps+1); !errors.Is(err, state.ErrInvalidShare) {
		t.Errorf("oversized share: got %v, want ErrInvalidShare", err)
	}
}

func TestRegistry_AddMemberRejectsOwnershipOverflow(t *testing.T) {
	r := state.NewRegistry()
	if err := r.AddMember(uuid.New(), nil, 7000); err != nil {
		t.Fatalf("first member: %v", err)
	}
	if err := r.AddMember(uuid.New(), nil, 4000); !errors.Is(err, state.ErrOwnershipExceeded) {
		t.Errorf("got %v, want ErrOwnershipExceeded", err)
	}
}

func TestRegistry_AddMemberRejectsTakenDevice(t *testing.T) {
	r := state.NewRegistry()
	if err := r.AddMember(uuid.New(), []uint64{7}, 1000); err != nil {
		t.Fatalf("first member: %v", err)
	}
	if err := r.AddMember(uuid.New(), []uint64{7}, 1000); !errors.Is(err, state.ErrDeviceAssigned) {
		t.Errorf("got %v, want ErrDeviceAssigned", err)
	}
}

func TestRegistry_ZeroShareMemberAllowed(t *testing.T) {
	r := state.NewRegistry()
	community := uuid.New()
	if err := r.AddMember(community, []uint64{99}, 0); err != nil {
		t.Fatalf("zero-share member: %v", err)
	}
	if !r.IsMember(community) {
		t.Error("zero-share member should be active")
	}
	if got := r.TotalActiveBps(); got != 0 {
		t.Errorf("total bps: got %d, want 0", got)
	}
}

func TestRegistry_RemoveMemberReleasesDevices(t *testing.T) {
	r := state.NewRegistry()
	addr := uuid.New()
	if err := r.AddMember(addr, []uint64{5}, 2000); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := r.SetCommunityDeviceID(5); err != nil {
		t.Fatalf("set community device: %v", err)
	}

	if err := r.RemoveMember(addr); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	if r.IsMember(addr) {
		t.Error("member should be inactive")
	}
	if _, ok := r.DeviceOwner(5); ok {
		t.Error("device 5 should be released")
	}
	if got := r.CommunityDeviceID(); got != 0 {
		t.Errorf("community device should be cleared, got %d", got)
	}
	if got := r.TotalActiveBps(); got != 0 {
		t.Errorf("total bps after removal: got %d, want 0", got)
	}
}

func TestRegistry_RemoveUnknownMember(t *testing.T) {
	r := state.NewRegistry()
	if err := r.RemoveMember(uuid.New()); !errors.Is(err, state.ErrUnknownMember) {
		t.Errorf("got %v, want ErrUnknownMember", err)
	}
}

func TestRegistry_SetCommunityDeviceRequiresRegistered(t *testing.T) {
	r := state.NewRegistry()
	if err := r.SetCommunityDeviceID(42); !errors.Is(err, state.ErrUnknownDevice) {
		t.Errorf("got %v, want ErrUnknownDevice", err)
	}
}

func TestRegistry_SetExportDeviceRejectsAssigned(t *testing.T) {
	r := state.NewRegistry()
	if err := r.AddMember(uuid.New(), []uint64{3}, 1000); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := r.SetExportDeviceID(3); !errors.Is(err, state.ErrDeviceAssigned) {
		t.Errorf("got %v, want ErrDeviceAssigned", err)
	}
	if err := r.SetExportDeviceID(4); err != nil {
		t.Errorf("unassigned export device: %v", err)
	}
}

func TestRegistry_CommunityAddr(t *testing.T) {
	r := state.NewRegistry()
	community := uuid.New()
	if err := r.AddMember(community, []uint64{9}, 0); err != nil {
		t.Fatalf("add member: %v", err)
	}

	if _, ok := r.CommunityAddr(); ok {
		t.Error("community address should be unset")
	}

	if err := r.SetCommunityDeviceID(9); err != nil {
		t.Fatalf("set community device: %v", err)
	}
	addr, ok := r.CommunityAddr()
	if !ok || addr != community {
		t.Errorf("community addr: got %v/%v, want %v/true", addr, ok, community)
	}
}

func TestRegistry_ActiveMembersKeepRegistrationOrder(t *testing.T) {
	r := state.NewRegistry()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	for _, addr := range []uuid.UUID{a, b, c} {
		if err := r.AddMember(addr, nil, 1000); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	if err := r.RemoveMember(b); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	members := r.ActiveMembers()
	if len(members) != 2 || members[0].Addr != a || members[1].Addr != c {
		t.Errorf("active members out of order: %v", members)
	}
}

func TestRegistry_SnapshotRestore(t *testing.T) {
	r := state.NewRegistry()
	a, b := uuid.New(), uuid.New()
	if err := r.AddMember(a, []uint64{1}, 4000); err != nil {
		t.Fatalf("add member a: %v", err)
	}
	if err := r.AddMember(b, []uint64{2}, 6000); err != nil {
		t.Fatalf("add member b: %v", err)
	}
	if err := r.SetCommunityDeviceID(1); err != nil {
		t.Fatalf("set community device: %v", err)
	}
	r.SetExportPrice(35)

	restored := state.NewRegistry()
	if err := restored.Restore(r.Snapshot()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if !restored.IsMember(a) || !restored.IsMember(b) {
		t.Error("members lost in restore")
	}
	if got := restored.TotalActiveBps(); got != 10000 {
		t.Errorf("total bps: got %d, want 10000", got)
	}
	if got := restored.CommunityDeviceID(); got != 1 {
		t.Errorf("community device: got %d, want 1", got)
	}
	if got := restored.ExportPrice(); got != 35 {
		t.Errorf("export price: got %d, want 35", got)
	}

	members := restored.ActiveMembers()
	if len(members) != 2 || members[0].Addr != a || members[1].Addr != b {
		t.Error("restore lost registration order")
	}
}
