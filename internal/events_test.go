package internal

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientEvent(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"authenticate", `{"type":"authenticate","token":"abc"}`, false},
		{"authenticate missing token", `{"type":"authenticate"}`, true},
		{"join-room", `{"type":"join-room","userId":"alice"}`, false},
		{"join-room missing user", `{"type":"join-room"}`, true},
		{"get-online-users", `{"type":"get-online-users"}`, false},
		{"server-only type rejected", `{"type":"user-online","userId":"alice"}`, true},
		{"unknown type", `{"type":"dance"}`, true},
		{"malformed json", `{"type":`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeClientEvent([]byte(tc.payload))
			if tc.wantErr && err == nil {
				t.Errorf("expected error for %s", tc.payload)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestOnlineUsersEventNeverNull(t *testing.T) {
	payload := encodeEvent(onlineUsersEvent(nil))
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["userIds"]) != "[]" {
		t.Errorf("empty snapshot must encode as [], got %s", raw["userIds"])
	}
}

func TestEventWireFieldNames(t *testing.T) {
	payload := encodeEvent(userOnlineEvent("alice"))
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["type"] != EventUserOnline {
		t.Errorf("type = %v", raw["type"])
	}
	if raw["userId"] != "alice" {
		t.Errorf("userId = %v, the wire uses camelCase", raw["userId"])
	}
}
