package birdc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeStatus(t *testing.T) {
	st, err := DecodeStatus(loadLines(t, "status.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &Status{
		Version:             "2.0.7",
		RouterID:            "172.16.10.1",
		ServerTime:          "2019-10-01 18:02:11.123",
		LastReboot:          "2019-10-01 17:59:35.442",
		LastReconfiguration: "2019-10-01 17:59:35.442",
		Message:             "Daemon is up and running",
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeStatus_BannerOnly(t *testing.T) {
	st, err := DecodeStatus([]string{"0001 BIRD 3.0.1 ready.", "0013 Daemon is shutting down"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Version != "3.0.1" {
		t.Errorf("expected version from banner, got %q", st.Version)
	}
	if st.RouterID != "" || st.ServerTime != "" {
		t.Errorf("expected missing fields to stay empty, got %+v", st)
	}
	if st.Message != "Daemon is shutting down" {
		t.Errorf("unexpected message %q", st.Message)
	}
}

func TestDecodeStatus_DaemonError(t *testing.T) {
	_, err := DecodeStatus([]string{"0001 BIRD 2.0.7 ready.", "9001 Access denied"})
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Message != "Access denied" {
		t.Fatalf("expected protocol error, got %v", err)
	}
}
