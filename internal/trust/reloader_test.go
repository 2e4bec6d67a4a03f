package trust

import (
	"testing"
	"time"
)

func TestU_Reloader_InitialLoad(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t, "Test Root")
	certPath, keyPath := serverMaterial(t, ca, dir)

	r, err := NewReloader(certPath, keyPath, nil)
	if err != nil {
		t.Fatalf("NewReloader failed: %v", err)
	}
	defer r.Close()

	cert, err := r.GetCertificate(nil)
	if err != nil {
		t.Fatalf("GetCertificate failed: %v", err)
	}
	if cert.Leaf == nil || cert.Leaf.Subject.CommonName != "server.example.com" {
		t.Errorf("unexpected leaf: %+v", cert.Leaf)
	}
}

func TestU_Reloader_PicksUpRotation(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t, "Test Root")
	certPath, keyPath := serverMaterial(t, ca, dir)

	r, err := NewReloader(certPath, keyPath, nil)
	if err != nil {
		t.Fatalf("NewReloader failed: %v", err)
	}
	defer r.Close()
	r.Watch()

	before, err := r.GetCertificate(nil)
	if err != nil {
		t.Fatal(err)
	}

	// Rotate the pair in place. Both files are watched, so the event for
	// whichever file is rewritten last sees a consistent pair.
	rotated := newTestCA(t, "Test Root")
	newCert, newKey := serverMaterial(t, rotated, dir)
	if newCert != certPath || newKey != keyPath {
		t.Fatalf("rotation wrote to unexpected paths: %s %s", newCert, newKey)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		after, err := r.GetCertificate(nil)
		if err == nil && after.Leaf.SerialNumber.Cmp(before.Leaf.SerialNumber) != 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("reloader did not pick up rotated certificate")
}

func TestU_Reloader_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewReloader(dir+"/absent.crt", dir+"/absent.key", nil); err == nil {
		t.Fatal("NewReloader with missing files succeeded, want error")
	}
}
