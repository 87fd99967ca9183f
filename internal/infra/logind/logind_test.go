package logind

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProperty struct {
	value dbus.Variant
	err   error
	asked string
}

func (f *fakeProperty) GetProperty(p string) (dbus.Variant, error) {
	f.asked = p
	return f.value, f.err
}

func TestLock_Unlocked(t *testing.T) {
	tests := []struct {
		name    string
		prop    *fakeProperty
		want    bool
		wantErr bool
	}{
		{name: "unlocked", prop: &fakeProperty{value: dbus.MakeVariant(false)}, want: true},
		{name: "locked", prop: &fakeProperty{value: dbus.MakeVariant(true)}, want: false},
		{name: "bus error", prop: &fakeProperty{err: errors.New("org.freedesktop.DBus.Error.ServiceUnknown")}, wantErr: true},
		{name: "wrong type", prop: &fakeProperty{value: dbus.MakeVariant("yes")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(tt.prop).Unlocked(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "org.freedesktop.login1.Session.LockedHint", tt.prop.asked)
		})
	}
}

func TestLock_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&fakeProperty{value: dbus.MakeVariant(false)}).Unlocked(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, New(nil).Close())
}
