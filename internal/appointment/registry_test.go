package appointment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRegistry(t *testing.T, repo *MemoryRepository, fn func(ctx context.Context, r *Registry)) {
	t.Helper()
	err := repo.InTx(context.Background(), testLocation, func(ctx context.Context, tx Tx) error {
		fn(ctx, NewRegistry(tx))
		return nil
	})
	require.NoError(t, err)
}

func TestRegistry_OccupyIsGuarded(t *testing.T) {
	f := newFixture(t)
	room := f.room("R1")

	withRegistry(t, f.repo, func(ctx context.Context, r *Registry) {
		require.NoError(t, r.Occupy(ctx, room.ID))
		assert.ErrorIs(t, r.Occupy(ctx, room.ID), ErrResourceUnavailable)

		require.NoError(t, r.Release(ctx, room.ID))
		require.NoError(t, r.Release(ctx, room.ID), "release is idempotent")
	})
	assert.Equal(t, RoomAvailable, f.roomStatus(room.ID))
}

func TestRegistry_InactiveRoomCannotBeOccupied(t *testing.T) {
	f := newFixture(t)
	room := f.room("R1")
	_, err := f.svc.SetRoomActive(f.ctx, room.ID, false)
	require.NoError(t, err)

	withRegistry(t, f.repo, func(ctx context.Context, r *Registry) {
		assert.ErrorIs(t, r.Occupy(ctx, room.ID), ErrResourceUnavailable)

		found, err := r.FindAvailableRoom(ctx, testLocation)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestRegistry_MarkBusyIsGuarded(t *testing.T) {
	f := newFixture(t)
	d := f.dentist("Dr A")

	withRegistry(t, f.repo, func(ctx context.Context, r *Registry) {
		require.NoError(t, r.MarkBusy(ctx, d.ID))
		assert.ErrorIs(t, r.MarkBusy(ctx, d.ID), ErrResourceUnavailable)
		require.NoError(t, r.MarkAvailable(ctx, d.ID))
	})
	assert.True(t, f.dentistAvailable(d.ID))
}

func TestRegistry_FindAvailableRoomByLabel(t *testing.T) {
	f := newFixture(t)
	f.room("R3")
	r1 := f.room("R1")
	f.room("R2")

	withRegistry(t, f.repo, func(ctx context.Context, r *Registry) {
		found, err := r.FindAvailableRoom(ctx, testLocation)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, r1.ID, found.ID)
	})
}

func TestRegistry_FindAvailableDentist(t *testing.T) {
	f := newFixture(t)
	x := f.dentist("Dr X")
	y := f.dentist("Dr Y")

	withRegistry(t, f.repo, func(ctx context.Context, r *Registry) {
		require.NoError(t, r.MarkBusy(ctx, x.ID))

		found, err := r.FindAvailableDentist(ctx, testLocation, &x.ID)
		require.NoError(t, err)
		assert.Nil(t, found, "preferred dentist is busy")

		found, err = r.FindAvailableDentist(ctx, testLocation, nil)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, y.ID, found.ID)

		unknown := uuid.New()
		found, err = r.FindAvailableDentist(ctx, testLocation, &unknown)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestRegistry_RollbackRestoresResources(t *testing.T) {
	f := newFixture(t)
	room := f.room("R1")
	d := f.dentist("Dr A")

	err := f.repo.InTx(f.ctx, testLocation, func(ctx context.Context, tx Tx) error {
		r := NewRegistry(tx)
		require.NoError(t, r.Occupy(ctx, room.ID))
		require.NoError(t, r.MarkBusy(ctx, d.ID))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	assert.Equal(t, RoomAvailable, f.roomStatus(room.ID))
	assert.True(t, f.dentistAvailable(d.ID))
}
