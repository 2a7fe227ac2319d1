package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/fieldsync/internal/core"
)

func TestInTx_RollbackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	partner := s.MustSeed("partners", core.Fields{"name": "Acme"})

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx core.Tx) error {
		if _, err := tx.Insert(ctx, "partners", core.Fields{"name": "Temp"}); err != nil {
			return err
		}
		if err := tx.Update(ctx, "partners", partner, core.Fields{"name": "Renamed"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.Count(ctx, "partners", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err := s.Get(ctx, "partners", partner)
	require.NoError(t, err)
	assert.Equal(t, "Acme", row["name"])
}

func TestSavepoint_KeepsOuterWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.InTx(ctx, func(tx core.Tx) error {
		if _, err := tx.Insert(ctx, "partners", core.Fields{"name": "Kept", "mobile_uid": "a"}); err != nil {
			return err
		}
		spErr := tx.Savepoint(ctx, func(sp core.Tx) error {
			if _, err := sp.Insert(ctx, "partners", core.Fields{"name": "Dropped"}); err != nil {
				return err
			}
			_, err := sp.Insert(ctx, "partners", core.Fields{"name": "Dup", "mobile_uid": "a"})
			return err
		})
		assert.ErrorIs(t, spErr, core.ErrConflict)
		return nil
	})
	require.NoError(t, err)

	rows, err := s.Select(ctx, core.Query{Table: "partners"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Kept", rows[0]["name"])
}

func TestUpdate_StampsWriteDateAndKeepsMobileUID(t *testing.T) {
	s := New()
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := created.Add(time.Hour)

	s.Now = func() time.Time { return created }
	id := s.MustSeed("visits", core.Fields{"mobile_uid": "v-1"})

	s.Now = func() time.Time { return later }
	require.NoError(t, s.InTx(ctx, func(tx core.Tx) error {
		return tx.Update(ctx, "visits", id, core.Fields{"memo": "x", "mobile_uid": "other"})
	}))

	row, err := s.Get(ctx, "visits", id)
	require.NoError(t, err)
	assert.Equal(t, "v-1", row["mobile_uid"])
	assert.Equal(t, later, row["write_date"])
	assert.Equal(t, created, row["create_date"])

	err = s.InTx(ctx, func(tx core.Tx) error {
		return tx.Update(ctx, "visits", 99, core.Fields{"memo": "x"})
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSelect_OrderingAndPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, name := range []string{"b", "a", "c"} {
		s.MustSeed("products", core.Fields{"name": name})
	}
	s.MustSeed("products", core.Fields{"name": nil})

	rows, err := s.Select(ctx, core.Query{
		Table:   "products",
		OrderBy: []core.Order{{Column: "name"}},
		Limit:   2,
		Offset:  1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["name"])
	assert.Equal(t, "c", rows[1]["name"])

	rows, err = s.Select(ctx, core.Query{Table: "products", Where: []core.Condition{core.In("id", []int64{2, 3})}})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = s.Select(ctx, core.Query{Table: "nope"})
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, compare(int64(2), 2.0))
	assert.Equal(t, -1, compare("a", "b"))
	assert.Equal(t, 1, compare(true, false))
	assert.Equal(t, -2, compare("a", int64(1)))
}

func TestCredentials(t *testing.T) {
	s := New()
	ctx := context.Background()

	c, err := s.CreateCredential(ctx, "tablet", "digest-1", nil)
	require.NoError(t, err)
	_, err = s.CreateCredential(ctx, "dup", "digest-1", nil)
	assert.ErrorIs(t, err, core.ErrConflict)

	found, err := s.FindActiveCredential(ctx, "digest-1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)

	now := time.Now()
	require.NoError(t, s.TouchCredential(ctx, c.ID, now))
	list, err := s.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastUsed)

	require.NoError(t, s.RevokeCredential(ctx, c.ID))
	_, err = s.FindActiveCredential(ctx, "digest-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSubscriptions(t *testing.T) {
	s := New()
	ctx := context.Background()

	sub, err := s.CreateSubscription(ctx, core.Subscription{Name: "a", Active: true, Events: []string{"visit.created"}})
	require.NoError(t, err)
	_, err = s.CreateSubscription(ctx, core.Subscription{Name: "off", Active: false, Events: []string{"visit.created"}})
	require.NoError(t, err)

	active, err := s.ActiveSubscriptions(ctx, "visit.created")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, sub.ID, active[0].ID)

	require.NoError(t, s.RecordDelivery(ctx, sub.ID, core.DeliveryOutcome{At: time.Now(), Error: "timeout"}))
	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastStatus)
	assert.Equal(t, "timeout", got.LastError)
	assert.NotNil(t, got.LastTriggered)

	_, err = s.GetSubscription(ctx, 42)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
