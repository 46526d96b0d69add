package protocol

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecode(t *testing.T) {
	req := &BuildRequest{
		Recipe:  "from: scratch\n",
		Context: "/home/dev/app",
		Tag:     "app:latest",
	}

	data, err := Encode(CmdBuild, req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, payload, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Command != CmdBuild {
		t.Fatalf("command = %q, want %q", env.Command, CmdBuild)
	}

	got, err := DecodePayload[BuildRequest](payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if diff := cmp.Diff(req, got); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeNilPayload(t *testing.T) {
	data, err := Encode(CmdStatus, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, payload, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Command != CmdStatus {
		t.Fatalf("command = %q, want %q", env.Command, CmdStatus)
	}
	if len(payload) != 0 {
		t.Fatalf("payload = %q, want empty", payload)
	}
}

func TestDecodeInvalid(t *testing.T) {
	for _, data := range []string{"", "not json", "{}"} {
		t.Run(data, func(t *testing.T) {
			if _, _, err := Decode([]byte(data)); err == nil {
				t.Fatalf("Decode(%q) succeeded, want error", data)
			}
		})
	}
}
