package gateway

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func TestParseCommand(t *testing.T) {
	roomID := uuid.New()
	playerID := uuid.New()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, cmd Command)
	}{
		{
			name: "make pick",
			raw: fmt.Sprintf(`{"type":"make_pick","room_id":%q,"data":{"player_id":%q,"expected_pick_number":7}}`,
				roomID, playerID),
			check: func(t *testing.T, cmd Command) {
				if cmd.Type != CommandMakePick {
					t.Fatalf("type = %s", cmd.Type)
				}
				if cmd.RoomID != roomID {
					t.Fatalf("room id = %s", cmd.RoomID)
				}
				payload, err := decodeData[MakePickCommand](cmd)
				if err != nil {
					t.Fatalf("decode data: %v", err)
				}
				if payload.PlayerID != playerID || payload.ExpectedPickNumber != 7 {
					t.Fatalf("payload = %+v", payload)
				}
			},
		},
		{
			name: "join room without data",
			raw:  fmt.Sprintf(`{"type":"join_room","room_id":%q}`, roomID),
			check: func(t *testing.T, cmd Command) {
				if cmd.Type != CommandJoinRoom {
					t.Fatalf("type = %s", cmd.Type)
				}
			},
		},
		{
			name: "set auto pick",
			raw: fmt.Sprintf(`{"type":"set_auto_pick","room_id":%q,"data":{"enabled":true,"preference_queue":[%q]}}`,
				roomID, playerID),
			check: func(t *testing.T, cmd Command) {
				payload, err := decodeData[SetAutoPickCommand](cmd)
				if err != nil {
					t.Fatalf("decode data: %v", err)
				}
				if !payload.Enabled || len(payload.PreferenceQueue) != 1 {
					t.Fatalf("payload = %+v", payload)
				}
			},
		},
		{
			name:    "unknown type",
			raw:     fmt.Sprintf(`{"type":"launch_missiles","room_id":%q}`, roomID),
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `{"type":`,
			wantErr: true,
		},
		{
			name:    "empty type",
			raw:     fmt.Sprintf(`{"room_id":%q}`, roomID),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cmd)
			}
		})
	}
}

func TestDecodeDataMissing(t *testing.T) {
	cmd := Command{Type: CommandMakePick, RoomID: uuid.New()}
	if _, err := decodeData[MakePickCommand](cmd); err == nil {
		t.Fatal("expected error for missing data")
	}
}
