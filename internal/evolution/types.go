package evolution

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Connection states reported by the gateway.
const (
	StateOpen       = "open"
	StateConnecting = "connecting"
	StateClose      = "close"
)

// Instance is one WhatsApp session managed by the gateway. fetchInstances
// returns a flat object in v2 and an {"instance": {...}} wrapper in v1; both
// decode into this type.
type Instance struct {
	ID               string    `json:"id,omitempty"`
	Name             string    `json:"name"`
	ConnectionStatus string    `json:"connectionStatus"`
	OwnerJID         string    `json:"ownerJid,omitempty"`
	ProfileName      string    `json:"profileName,omitempty"`
	ProfilePicURL    string    `json:"profilePicUrl,omitempty"`
	Integration      string    `json:"integration,omitempty"`
	Number           string    `json:"number,omitempty"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt,omitempty"`
}

// UnmarshalJSON accepts both the v2 flat shape and the v1 wrapped shape.
func (i *Instance) UnmarshalJSON(data []byte) error {
	type flat Instance
	var wrapped struct {
		Instance *struct {
			InstanceName  string `json:"instanceName"`
			InstanceID    string `json:"instanceId"`
			Owner         string `json:"owner"`
			ProfileName   string `json:"profileName"`
			ProfilePicURL string `json:"profilePictureUrl"`
			Status        string `json:"status"`
			Integration   string `json:"integration"`
		} `json:"instance"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Instance != nil && wrapped.Instance.InstanceName != "" {
		w := wrapped.Instance
		*i = Instance{
			ID:               w.InstanceID,
			Name:             w.InstanceName,
			ConnectionStatus: w.Status,
			OwnerJID:         w.Owner,
			ProfileName:      w.ProfileName,
			ProfilePicURL:    w.ProfilePicURL,
			Integration:      w.Integration,
		}
		return nil
	}
	var f flat
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*i = Instance(f)
	return nil
}

// Connected reports whether the session is logged in.
func (i *Instance) Connected() bool {
	return i.ConnectionStatus == StateOpen
}

// ConnectionState is the response of /instance/connectionState.
type ConnectionState struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// State returns the bare state string ("open", "connecting", "close").
func (c *ConnectionState) State() string {
	return c.Instance.State
}

// ConnectResponse carries the QR code and pairing code for a disconnected
// instance. An already-connected instance returns its state instead and the
// codes are empty.
type ConnectResponse struct {
	PairingCode string `json:"pairingCode,omitempty"`
	Code        string `json:"code,omitempty"`
	Base64      string `json:"base64,omitempty"` // data:image/png;base64,... QR image
	Count       int    `json:"count,omitempty"`
	Instance    *struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance,omitempty"`
}

// WebhookConfig is the webhook registration of an instance.
type WebhookConfig struct {
	Enabled  bool     `json:"enabled"`
	URL      string   `json:"url"`
	ByEvents bool     `json:"byEvents"`
	Base64   bool     `json:"base64"`
	Events   []string `json:"events"`
}

// UnmarshalJSON accepts the /webhook/find shape, which names the flags
// webhookByEvents/webhookBase64, as well as the /webhook/set request shape.
func (w *WebhookConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Enabled         *bool    `json:"enabled"`
		URL             string   `json:"url"`
		ByEvents        *bool    `json:"byEvents"`
		Base64          *bool    `json:"base64"`
		WebhookByEvents *bool    `json:"webhookByEvents"`
		WebhookBase64   *bool    `json:"webhookBase64"`
		Events          []string `json:"events"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*w = WebhookConfig{URL: raw.URL, Events: raw.Events}
	if raw.Enabled != nil {
		w.Enabled = *raw.Enabled
	}
	w.ByEvents = firstBool(raw.ByEvents, raw.WebhookByEvents)
	w.Base64 = firstBool(raw.Base64, raw.WebhookBase64)
	return nil
}

func firstBool(values ...*bool) bool {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return false
}

// setWebhookRequest is the v2 /webhook/set body.
type setWebhookRequest struct {
	Webhook WebhookConfig `json:"webhook"`
}

// Normalized returns a copy with events upper-snake-cased, deduplicated and
// sorted, and the URL trimmed.
func (w WebhookConfig) Normalized() WebhookConfig {
	w.URL = strings.TrimSpace(w.URL)
	w.Events = NormalizeEvents(w.Events)
	return w
}

// Diff describes every difference from current to desired. An empty result
// means the configurations are equivalent.
func Diff(current, desired WebhookConfig) []string {
	current, desired = current.Normalized(), desired.Normalized()
	var diffs []string
	if current.Enabled != desired.Enabled {
		diffs = append(diffs, fmt.Sprintf("enabled: %t -> %t", current.Enabled, desired.Enabled))
	}
	if current.URL != desired.URL {
		diffs = append(diffs, fmt.Sprintf("url: %q -> %q", current.URL, desired.URL))
	}
	if current.ByEvents != desired.ByEvents {
		diffs = append(diffs, fmt.Sprintf("byEvents: %t -> %t", current.ByEvents, desired.ByEvents))
	}
	if current.Base64 != desired.Base64 {
		diffs = append(diffs, fmt.Sprintf("base64: %t -> %t", current.Base64, desired.Base64))
	}
	missing, extra := setDiff(desired.Events, current.Events)
	if len(missing) > 0 {
		diffs = append(diffs, "events missing: "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		diffs = append(diffs, "events extra: "+strings.Join(extra, ", "))
	}
	return diffs
}

// NormalizeEvent converts "messages.upsert" or "messages-upsert" to
// "MESSAGES_UPSERT".
func NormalizeEvent(e string) string {
	e = strings.TrimSpace(e)
	e = strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(e)
	return strings.ToUpper(e)
}

// NormalizeEvents normalizes, deduplicates and sorts a list of event names.
func NormalizeEvents(events []string) []string {
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		n := NormalizeEvent(e)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// EventSlug is the path suffix the gateway appends to the webhook URL when
// byEvents is on: MESSAGES_UPSERT -> messages-upsert.
func EventSlug(event string) string {
	return strings.ToLower(strings.ReplaceAll(NormalizeEvent(event), "_", "-"))
}

// setDiff returns the elements of want missing from have, and of have
// missing from want. Both inputs must already be normalized.
func setDiff(want, have []string) (missing, extra []string) {
	haveSet := make(map[string]bool, len(have))
	for _, h := range have {
		haveSet[h] = true
	}
	wantSet := make(map[string]bool, len(want))
	for _, w := range want {
		wantSet[w] = true
		if !haveSet[w] {
			missing = append(missing, w)
		}
	}
	for _, h := range have {
		if !wantSet[h] {
			extra = append(extra, h)
		}
	}
	return missing, extra
}

// MessageKey identifies a sent message.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// SendTextResponse is the result of /message/sendText.
type SendTextResponse struct {
	Key              MessageKey `json:"key"`
	Status           string     `json:"status,omitempty"`
	MessageTimestamp any        `json:"messageTimestamp,omitempty"`
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int    `json:"delay,omitempty"`
}
