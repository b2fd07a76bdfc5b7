package nmea

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMaskSetClear(t *testing.T) {
	var m KindMask
	assert.True(t, m.IsNone())
	assert.False(t, m.IsSet(KindGPGGA))

	m.Set(KindGPGGA)
	assert.True(t, m.IsSet(KindGPGGA))
	assert.False(t, m.IsNone())

	m.Set(KindGPGGA)
	assert.Equal(t, MaskOf(KindGPGGA), m)

	m.Clear(KindGPGGA)
	assert.True(t, m.IsNone())
}

func TestKindInvalidNeverSet(t *testing.T) {
	assert.False(t, MaskAll.IsSet(KindInvalid))
	assert.Equal(t, MaskNone, MaskOf(KindInvalid))
}

func TestKindMaskAlgebra(t *testing.T) {
	gga := MaskOf(KindGPGGA)
	other := KindMask(1 << 5)

	assert.Equal(t, gga|other, gga.Union(other))
	assert.Equal(t, MaskNone, gga.Intersect(other))
	assert.Equal(t, gga, gga.Union(other).Intersect(gga))
	assert.False(t, gga.Complement().IsSet(KindGPGGA))
	assert.True(t, MaskNone.Complement().IsSet(KindGPGGA))
	assert.Equal(t, MaskAll, MaskNone.Complement())
}

func TestKindMaskString(t *testing.T) {
	tests := []struct {
		mask KindMask
		want string
	}{
		{MaskNone, "{}"},
		{MaskOf(KindGPGGA), "{GPGGA}"},
		{MaskAll, "{GPGGA}"},
		{KindMask(1 << 7), "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mask.String())
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "GPGGA", KindGPGGA.String())
	assert.Equal(t, "INVALID", KindInvalid.String())
	assert.Equal(t, "UNKNOWN", Kind(1<<9).String())
	assert.Equal(t, []Kind{KindGPGGA}, MaskAll.Kinds())
	assert.Empty(t, MaskNone.Kinds())
}
