package reconnect

import (
	"testing"
	"time"
)

func TestWorkerRegisterUnregisterSession(t *testing.T) {
	w := New()

	if _, ok := w.lookupSession("sess-1"); ok {
		t.Fatal("lookupSession should report false before any session is registered")
	}

	w.RegisterSession("sess-1", nil)
	if _, ok := w.lookupSession("sess-1"); !ok {
		t.Fatal("lookupSession should find a just-registered session")
	}

	w.UnregisterSession("sess-1")
	if _, ok := w.lookupSession("sess-1"); ok {
		t.Fatal("lookupSession should report false after UnregisterSession")
	}
}

func TestWorkerEstimateStoreAndLookup(t *testing.T) {
	w := New()

	if _, ok := w.LatestEstimate("sess-1", "/srv/data"); ok {
		t.Fatal("LatestEstimate should report false before any estimate is stored")
	}

	want := FolderEstimate{Bytes: 4096, FileCount: 12, UpdatedAt: time.Unix(0, 0)}
	w.storeEstimate("sess-1", "/srv/data", want)

	got, ok := w.LatestEstimate("sess-1", "/srv/data")
	if !ok {
		t.Fatal("LatestEstimate should find a just-stored estimate")
	}
	if got.Bytes != want.Bytes || got.FileCount != want.FileCount {
		t.Fatalf("LatestEstimate = %+v, want %+v", got, want)
	}

	if _, ok := w.LatestEstimate("sess-1", "/srv/other"); ok {
		t.Fatal("LatestEstimate should not cross-match a different remotePath for the same session")
	}
}

func TestEstimateKeyDistinguishesSessionAndPath(t *testing.T) {
	a := estimateKey("sess-1", "/a")
	b := estimateKey("sess-1", "/b")
	c := estimateKey("sess-2", "/a")

	if a == b || a == c || b == c {
		t.Fatalf("estimateKey collided: a=%q b=%q c=%q", a, b, c)
	}
}
