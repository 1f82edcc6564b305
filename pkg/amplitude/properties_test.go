package amplitude

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
)

func TestUserProperties_ToMap(t *testing.T) {
	u := UserProperties{
		UserID: "u1",
		Extra:  map[string]any{"plan": "pro", "user_id": "ignored"},
	}

	assert.Equal(t, map[string]any{"user_id": "u1", "plan": "pro"}, u.ToMap())
}

func TestDeviceProperties_ToMap(t *testing.T) {
	d := DeviceProperties{
		DeviceID: "d1",
		OSName:   "linux",
		Is64Bit:  true,
		RAMMB:    2048,
	}

	assert.Equal(t, map[string]any{
		"device_id":    "d1",
		"os_name":      "linux",
		"64bit_device": true,
		"ram_mbs":      uint64(2048),
	}, d.ToMap())
}

func TestIdentifyProperties_TypedFieldsWin(t *testing.T) {
	props := identifyProperties(
		UserProperties{UserID: "u1", AppVersion: "2.0", Extra: map[string]any{"team": "core"}},
		DeviceProperties{DeviceID: "d1", Extra: map[string]any{"user_id": "spoofed", "gpu": "none"}},
	)

	id := event.NewIdentify(props)
	assert.Equal(t, "u1", id.UserID())
	assert.Equal(t, "d1", id.DeviceID())
	assert.Equal(t, "core", props["team"])
	assert.Equal(t, "none", props["gpu"])
	assert.Equal(t, "2.0", props["app_version"])
}

func TestDefaultDeviceProperties(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LANG", "de_DE.UTF-8")

	d := DefaultDeviceProperties()
	_, err := uuid.Parse(d.DeviceID)
	require.NoError(t, err)
	assert.NotEmpty(t, d.Platform)
	assert.Equal(t, d.Platform, d.OSName)
	assert.Equal(t, "de_DE", d.Language)

	assert.NotEqual(t, d.DeviceID, DefaultDeviceProperties().DeviceID)
}

func TestLocaleLanguage(t *testing.T) {
	tests := []struct {
		lcAll, lang string
		want        string
	}{
		{"", "en_US.UTF-8", "en_US"},
		{"fr_FR@euro", "en_US.UTF-8", "fr_FR"},
		{"C", "", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.lcAll+"|"+tt.lang, func(t *testing.T) {
			t.Setenv("LC_ALL", tt.lcAll)
			t.Setenv("LANG", tt.lang)
			assert.Equal(t, tt.want, localeLanguage())
		})
	}
}
