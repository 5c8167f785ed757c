package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Member is one live participant of a presence channel. A snapshot holds at
// most one entry per SocketID; several entries may share a UserID.
type Member struct {
	UserID   string `json:"user_id"`
	SocketID string `json:"socket_id"`
	UserInfo any    `json:"user_info,omitempty"`
}

func memberFromChannelData(data ChannelData, conn Connection) Member {
	m := Member{UserID: conn.UserID(), SocketID: conn.ID()}
	switch d := data.(type) {
	case StructuredMember:
		if uid := d.UserID(); uid != "" {
			m.UserID = uid
		}
		if info, ok := d["user_info"]; ok {
			m.UserInfo = info
		} else {
			m.UserInfo = map[string]any(d)
		}
	case RawPayload:
		if d != "" {
			m.UserInfo = string(d)
		}
	}
	return m
}

func membersKey(channel string) string {
	return channel + ":members"
}

func membersCountKey(channel string) string {
	return channel + ":members-count"
}

func decodeMembers(raw []byte) ([]Member, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var members []Member
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("decode membership snapshot: %w", err)
	}
	return members, nil
}

func encodeMembers(members []Member) ([]byte, error) {
	if members == nil {
		members = []Member{}
	}
	return json.Marshal(members)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
