// Copyright 2024-2026 Aiku AI

package fchat

import (
	"testing"
)

func TestParseFrame(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		in          string
		wantCmd     string
		wantPayload string
		wantErr     bool
	}{
		{"bare command", "PIN", "PIN", "", false},
		{"trailing newline", "PIN\n", "PIN", "", false},
		{"with payload", `MSG {"character":"Bob","message":"hi","channel":"Lounge"}`, "MSG", `{"character":"Bob","message":"hi","channel":"Lounge"}`, false},
		{"invalid payload", "MSG {oops", "MSG", "", true},
		{"empty", "  ", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd, payload, err := parseFrame([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error: got %v, wantErr %v", err, tt.wantErr)
			}
			if cmd != tt.wantCmd {
				t.Errorf("cmd: got %q, want %q", cmd, tt.wantCmd)
			}
			if string(payload) != tt.wantPayload {
				t.Errorf("payload: got %q, want %q", payload, tt.wantPayload)
			}
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	t.Parallel()
	got, err := encodeFrame(cmdPing, nil)
	if err != nil || string(got) != "PIN" {
		t.Errorf("bare frame: got %q, %v", got, err)
	}
	got, err = encodeFrame(cmdIdentify, identifyRequest{Method: "ticket", Account: "acc", Ticket: "t", Character: "Alice", ClientName: "c", ClientVersion: "1"})
	if err != nil {
		t.Fatal(err)
	}
	want := `IDN {"method":"ticket","account":"acc","ticket":"t","character":"Alice","cname":"c","cversion":"1"}`
	if string(got) != want {
		t.Errorf("IDN frame:\ngot  %s\nwant %s", got, want)
	}
}
