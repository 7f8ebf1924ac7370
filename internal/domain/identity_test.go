package domain

import "testing"

func TestBucket(t *testing.T) {
	cases := []struct {
		name     string
		identity Identity
		want     AttemptBucket
	}{
		{"user wins", Identity{UserID: "u1", Email: "a@b.c", IP: "10.0.0.1"}, AttemptBucket{Kind: BucketUser, Value: "u1"}},
		{"email before ip", Identity{SessionID: "s1", Email: "a@b.c", IP: "10.0.0.1"}, AttemptBucket{Kind: BucketEmail, Value: "a@b.c"}},
		{"ip", Identity{SessionID: "s1", IP: "10.0.0.1"}, AttemptBucket{Kind: BucketIP, Value: "10.0.0.1"}},
		{"session without ip", Identity{SessionID: "s1"}, AttemptBucket{Kind: BucketSession, Value: "s1"}},
	}
	for _, tc := range cases {
		if got := tc.identity.Bucket(); got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.name, tc.want, got)
		}
	}
}

func TestSessionBucketCountsOnlyThatSession(t *testing.T) {
	bucket := Identity{SessionID: "s1"}.Bucket()
	if !bucket.Counts(Identity{SessionID: "s1"}) {
		t.Fatalf("expected the same session to count")
	}
	if bucket.Counts(Identity{SessionID: "s2"}) {
		t.Fatalf("another ip-less session must not count")
	}
	if bucket.Counts(Identity{UserID: "u1", SessionID: "s1"}) {
		t.Fatalf("authenticated attempts must not count")
	}
}
