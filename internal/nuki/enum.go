package nuki

import "fmt"

// Category selects which label table a code is translated against.
type Category string

const (
	CategoryAction          Category = "action"
	CategoryTrigger         Category = "trigger"
	CategorySource          Category = "source"
	CategoryDeviceType      Category = "device_type"
	CategoryCompletionState Category = "completion_state"
)

// Label tables for the numeric codes the upstream platform sends. Codes not
// listed here are rendered as unknown(<code>) so that new firmware values
// survive normalization and stay identifiable for later table updates.
var actionLabels = map[int64]string{
	1:   "unlock",
	2:   "lock",
	3:   "unlatch",
	4:   "lock_n_go",
	5:   "lock_n_go_unlatch",
	208: "door_sensor_jammed",
	209: "door_sensor_error",
	224: "keypad_battery_critical",
	225: "keypad_battery_low",
	226: "keypad_battery_ok",
	240: "door_opened",
	241: "door_closed",
	243: "firmware_update",
	252: "initialization",
	253: "calibration",
	254: "log_enabled",
	255: "log_disabled",
}

var triggerLabels = map[int64]string{
	0:   "system_bluetooth",
	1:   "manual",
	2:   "button",
	3:   "automatic",
	4:   "web",
	5:   "app",
	6:   "auto_lock",
	7:   "accessory",
	255: "keypad",
}

var sourceLabels = map[int64]string{
	0: "default",
	1: "keypad_code",
	2: "fingerprint",
}

var deviceTypeLabels = map[int64]string{
	0: "smartlock",
	2: "opener",
	3: "smartdoor",
	4: "smartlock_3",
}

var completionStateLabels = map[int64]string{
	0:   "success",
	1:   "motor_blocked",
	2:   "canceled",
	3:   "too_recent",
	4:   "busy",
	5:   "low_motor_voltage",
	6:   "clutch_failure",
	7:   "motor_power_failure",
	8:   "incomplete",
	9:   "other_error",
	10:  "rejected_night_mode",
	254: "other_error",
	255: "unknown_error",
}

var labelTables = map[Category]map[int64]string{
	CategoryAction:          actionLabels,
	CategoryTrigger:         triggerLabels,
	CategorySource:          sourceLabels,
	CategoryDeviceType:      deviceTypeLabels,
	CategoryCompletionState: completionStateLabels,
}

// Translate maps a numeric upstream code to its canonical label. It is
// total: codes (or whole categories) missing from the tables come back as
// unknown(<code>) rather than an error.
func Translate(category Category, code int64) string {
	if table, ok := labelTables[category]; ok {
		if label, ok := table[code]; ok {
			return label
		}
	}
	return fmt.Sprintf("unknown(%d)", code)
}
