package systemd

import (
	"testing"
)

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("GetListeners failed: %v", err)
	}
	if listeners.Activated {
		t.Error("expected no socket activation")
	}
	if listeners.API != nil || listeners.Metrics != nil {
		t.Error("expected nil listeners")
	}
}

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	if IsSystemdService() {
		t.Error("expected not to run as a systemd service")
	}
	if err := NotifyReady(); err != nil {
		t.Errorf("NotifyReady without socket should be a no-op: %v", err)
	}
	if err := NotifyStopping(); err != nil {
		t.Errorf("NotifyStopping without socket should be a no-op: %v", err)
	}
}
