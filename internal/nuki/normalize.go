package nuki

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
)

// looseNumber decodes a JSON number or a JSON string holding one value.
// The platform mixes both encodings for ids and codes, so every numeric
// field is read through it.
type looseNumber string

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = looseNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = looseNumber(num)
	return nil
}

func (n looseNumber) String() string { return string(n) }

// rawPayload covers the superset of fields observed across the webhook
// shapes the platform sends. Which fields are populated depends on the
// feature; the normalizer probes them in priority order instead of
// branching on a rigid schema, so a new shape is a data change here.
type rawPayload struct {
	Feature       string           `json:"feature"`
	SmartlockID   *looseNumber     `json:"smartlockId"`
	SmartlockLog  *rawSmartlockLog `json:"smartlockLog"`
	State         json.RawMessage  `json:"state"`
	SmartlockAuth *rawAuth         `json:"smartlockAuth"`
	Deleted       bool             `json:"deleted"`
}

type rawSmartlockLog struct {
	ID          looseNumber  `json:"id"`
	SmartlockID *looseNumber `json:"smartlockId"`
	Action      *looseNumber `json:"action"`
	Trigger     *looseNumber `json:"trigger"`
	State       *looseNumber `json:"state"`
	Source      *looseNumber `json:"source"`
	DeviceType  *looseNumber `json:"deviceType"`
	Name        string       `json:"name"`
	AuthID      *looseNumber `json:"authId"`
	Date        string       `json:"date"`
}

type rawAuth struct {
	AuthID      *looseNumber `json:"authId"`
	SmartlockID *looseNumber `json:"smartlockId"`
	Name        string       `json:"name"`
}

// Normalize turns one raw webhook body into a canonical event record.
// Shape variance is expected input: unrecognized discriminators still
// produce a record (category UNKNOWN) so downstream can decide policy.
// Only structurally unusable bodies fail, with a NormalizationError.
func Normalize(raw []byte, receivedAt time.Time) (*domain.NormalizedEvent, error) {
	var p rawPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &NormalizationError{Reason: ReasonUnrecognizedShape, Detail: err.Error()}
	}

	ev := &domain.NormalizedEvent{
		Category:   categoryOf(&p),
		OccurredAt: receivedAt.UTC(),
	}

	deviceID, ok := deviceIDOf(&p)
	if !ok {
		return nil, &NormalizationError{Reason: ReasonMissingDeviceID}
	}
	ev.DeviceID = deviceID

	switch ev.Category {
	case domain.CategoryDeviceLogs:
		log := p.SmartlockLog
		if log == nil {
			log = &rawSmartlockLog{}
		}
		ev.Action = translateField(CategoryAction, log.Action)
		ev.Trigger = translateField(CategoryTrigger, log.Trigger)
		ev.Source = translateField(CategorySource, log.Source)
		ev.DeviceType = translateField(CategoryDeviceType, log.DeviceType)
		ev.CompletionState = translateField(CategoryCompletionState, log.State)
		ev.ActorName = log.Name
		ev.SequenceID = log.ID.String()
		if log.AuthID != nil {
			ev.AuthID = log.AuthID.String()
		}
		if log.Date != "" {
			occurred, err := time.Parse(time.RFC3339, log.Date)
			if err != nil {
				return nil, &NormalizationError{
					Reason: ReasonInvalidTimestamp,
					Detail: fmt.Sprintf("%q", log.Date),
				}
			}
			ev.OccurredAt = occurred.UTC()
		}

	case domain.CategoryDeviceStatus:
		ev.Status = p.State

	case domain.CategoryDeviceAuths:
		auth := p.SmartlockAuth
		if auth == nil {
			auth = &rawAuth{}
		}
		ev.ActorName = auth.Name
		ev.AuthDeleted = p.Deleted
		if auth.AuthID != nil {
			ev.AuthID = auth.AuthID.String()
		}
	}

	return ev, nil
}

// categoryOf maps the feature discriminator to an event category. Bodies
// without a feature field are classified by shape, since older platform
// deliveries omit it.
func categoryOf(p *rawPayload) domain.EventCategory {
	switch strings.ToUpper(p.Feature) {
	case "DEVICE_LOGS":
		return domain.CategoryDeviceLogs
	case "DEVICE_STATUS":
		return domain.CategoryDeviceStatus
	case "DEVICE_AUTHS":
		return domain.CategoryDeviceAuths
	case "":
		switch {
		case p.SmartlockLog != nil:
			return domain.CategoryDeviceLogs
		case p.SmartlockAuth != nil:
			return domain.CategoryDeviceAuths
		case len(p.State) > 0 && p.SmartlockID != nil:
			return domain.CategoryDeviceStatus
		}
	}
	return domain.CategoryUnknown
}

// deviceIDOf probes the known device id locations in priority order and
// returns the first present, non-null value.
func deviceIDOf(p *rawPayload) (string, bool) {
	candidates := []*looseNumber{nil, p.SmartlockID}
	if p.SmartlockLog != nil {
		candidates[0] = p.SmartlockLog.SmartlockID
	}
	if p.SmartlockAuth != nil {
		candidates = append(candidates, p.SmartlockAuth.SmartlockID)
	}
	if len(p.State) > 0 {
		var st struct {
			SmartlockID *looseNumber `json:"smartlockId"`
		}
		if err := json.Unmarshal(p.State, &st); err == nil {
			candidates = append(candidates, st.SmartlockID)
		}
	}
	for _, c := range candidates {
		if c != nil && c.String() != "" {
			return c.String(), true
		}
	}
	return "", false
}

// translateField runs a numeric code through the label tables. Absent
// fields stay empty; non-integer codes are passed through as sent, since
// the upstream occasionally delivers pre-labelled strings.
func translateField(category Category, code *looseNumber) string {
	if code == nil || code.String() == "" {
		return ""
	}
	n, err := strconv.ParseInt(code.String(), 10, 64)
	if err != nil {
		return code.String()
	}
	return Translate(category, n)
}
