package amplitude

import (
	"maps"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
)

// Properties is a free-form property bag attached to a track event.
type Properties = event.Properties

// UserProperties describes the user passed to Identify.
type UserProperties struct {
	UserID     string
	AppVersion string

	// Extra holds additional user properties. Typed fields win on collision.
	Extra map[string]any
}

// ToMap returns the non-empty properties keyed by their API names.
func (u UserProperties) ToMap() map[string]any {
	m := make(map[string]any, len(u.Extra)+2)
	maps.Copy(m, u.Extra)
	u.putFields(m)
	return m
}

func (u UserProperties) putFields(m map[string]any) {
	setString(m, event.KeyUserID, u.UserID)
	setString(m, "app_version", u.AppVersion)
}

// DeviceProperties describes the device passed to Identify.
type DeviceProperties struct {
	DeviceID           string
	Platform           string
	OSName             string
	OSVersion          string
	DeviceModel        string
	DeviceManufacturer string
	Language           string
	Is64Bit            bool
	RAMMB              uint64

	// Extra holds additional device properties. Typed fields win on collision.
	Extra map[string]any
}

// ToMap returns the non-empty properties keyed by their API names.
func (d DeviceProperties) ToMap() map[string]any {
	m := make(map[string]any, len(d.Extra)+9)
	maps.Copy(m, d.Extra)
	d.putFields(m)
	return m
}

func (d DeviceProperties) putFields(m map[string]any) {
	setString(m, event.KeyDeviceID, d.DeviceID)
	setString(m, "platform", d.Platform)
	setString(m, "os_name", d.OSName)
	setString(m, "os_version", d.OSVersion)
	setString(m, "device_model", d.DeviceModel)
	setString(m, "device_manufacturer", d.DeviceManufacturer)
	setString(m, "language", d.Language)
	m["64bit_device"] = d.Is64Bit
	if d.RAMMB > 0 {
		m["ram_mbs"] = d.RAMMB
	}
}

func setString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// DefaultDeviceProperties describes the current process with a fresh random
// device id. Hosts that want a stable id should persist DeviceID and reuse it.
func DefaultDeviceProperties() DeviceProperties {
	return DeviceProperties{
		DeviceID:    uuid.NewString(),
		Platform:    runtime.GOOS,
		OSName:      runtime.GOOS,
		DeviceModel: runtime.GOARCH,
		Language:    localeLanguage(),
		Is64Bit:     strconv.IntSize == 64,
	}
}

// localeLanguage extracts the language tag from LC_ALL or LANG ("en_US.UTF-8" -> "en_US").
func localeLanguage() string {
	for _, key := range []string{"LC_ALL", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return v
	}
	return ""
}

// identifyProperties merges user and device properties. Extras from both are
// applied first, then typed fields.
func identifyProperties(user UserProperties, device DeviceProperties) event.Properties {
	props := make(event.Properties, len(user.Extra)+len(device.Extra)+11)
	maps.Copy(props, user.Extra)
	maps.Copy(props, device.Extra)
	user.putFields(props)
	device.putFields(props)
	return props
}
