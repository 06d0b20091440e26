package history

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/route-beacon/bird-ingester/internal/state"
)

// Event is one row of route_events and the payload published to Kafka.
type Event struct {
	EventID   []byte    `json:"-"`
	RouterID  string    `json:"router_id"`
	TableName string    `json:"table_name"`
	AFI       int       `json:"afi"`
	Prefix    string    `json:"prefix"`
	Protocol  string    `json:"protocol"`
	PathIndex int       `json:"path_index"`
	Action    string    `json:"action"`
	EventTime time.Time `json:"event_time"`
	ReplyID   []byte    `json:"-"`

	Bestpath  bool              `json:"bestpath"`
	Since     string            `json:"since,omitempty"`
	Nexthop   string            `json:"nexthop,omitempty"`
	ASPath    string            `json:"as_path,omitempty"`
	Origin    string            `json:"origin,omitempty"`
	LocalPref *int64            `json:"localpref,omitempty"`
	MED       *int64            `json:"med,omitempty"`
	OriginASN *int              `json:"origin_asn,omitempty"`
	CommStd   []string          `json:"communities_std,omitempty"`
	CommExt   []string          `json:"communities_ext,omitempty"`
	CommLarge []string          `json:"communities_large,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// MarshalJSON adds the hex encoded event and reply IDs.
func (e *Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		ID      string `json:"event_id"`
		ReplyID string `json:"reply_id,omitempty"`
		*plain
	}{
		ID:      hex.EncodeToString(e.EventID),
		ReplyID: hex.EncodeToString(e.ReplyID),
		plain:   (*plain)(e),
	})
}

// Key returns the Kafka record key. Events of one prefix share a partition.
func (e *Event) Key() []byte {
	return []byte(e.RouterID + "|" + e.TableName + "|" + e.Prefix)
}

// NewEvents converts the changes of snap into events. replyID references
// the stored raw reply and may be nil.
func NewEvents(snap *state.Snapshot, changes []state.Change, replyID []byte) []*Event {
	events := make([]*Event, 0, len(changes))
	for _, c := range changes {
		r := c.Route
		events = append(events, &Event{
			EventID:   ComputeEventID(snap.RouterID, snap.TableName, c.Action, r, snap.TakenAt),
			RouterID:  snap.RouterID,
			TableName: snap.TableName,
			AFI:       r.AFI,
			Prefix:    r.Prefix,
			Protocol:  r.Protocol,
			PathIndex: r.PathIndex,
			Action:    c.Action,
			EventTime: snap.TakenAt,
			ReplyID:   replyID,
			Bestpath:  r.Bestpath,
			Since:     r.Since,
			Nexthop:   r.Nexthop,
			ASPath:    r.ASPath,
			Origin:    r.Origin,
			LocalPref: r.LocalPref,
			MED:       r.MED,
			OriginASN: r.OriginASN,
			CommStd:   r.CommStd,
			CommExt:   r.CommExt,
			CommLarge: r.CommLarge,
			Attrs:     r.Attrs,
		})
	}
	return events
}
