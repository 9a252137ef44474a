package identity

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mcptrust/execgate/internal/models"
)

const pinned = "ghcr.io/acme/engine@sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func testManifest() Manifest {
	return Manifest{
		Name:     "report-engine",
		Version:  "1.2.0",
		TenantID: "t1",
		Image:    pinned,
		Scopes:   []string{"execute", "read"},
		Tools:    []string{"render"},
	}
}

func TestManifest_Fingerprint(t *testing.T) {
	m := testManifest()
	fp1, err := m.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(fp1, "sha256:") || len(fp1) != len("sha256:")+64 {
		t.Errorf("fingerprint = %q", fp1)
	}
	fp2, _ := testManifest().Fingerprint()
	if fp1 != fp2 {
		t.Error("fingerprint is not deterministic")
	}
	m.Version = "1.2.1"
	fp3, _ := m.Fingerprint()
	if fp3 == fp1 {
		t.Error("fingerprint ignores version")
	}

	canon, _ := testManifest().Canonical()
	if !strings.HasPrefix(string(canon), `{"image":`) {
		t.Errorf("canonical form not key-sorted: %s", canon)
	}
}

func TestChainManager_Create(t *testing.T) {
	cm := NewChainManager()
	m := testManifest()
	c, err := cm.Create("t1", "u1", "", &m)
	if err != nil {
		t.Fatal(err)
	}
	if c.Engine != DefaultEngine || !strings.HasPrefix(c.ID, "chain-") {
		t.Errorf("chain = %+v", c)
	}
	fp, _ := m.Fingerprint()
	if c.ManifestFingerprint != fp {
		t.Errorf("fingerprint = %q, want %q", c.ManifestFingerprint, fp)
	}
	if got, ok := cm.Get(c.ID); !ok || got.ID != c.ID {
		t.Error("Get did not return created chain")
	}
	if ref := c.Ref(); ref.TenantID != "t1" || ref.ActorID != "u1" {
		t.Errorf("ref = %+v", ref)
	}

	bare, _ := cm.Create("t1", "u1", "x", nil)
	if bare.ManifestFingerprint != "" {
		t.Error("chain without manifest has fingerprint")
	}
}

func TestTokenIssuer(t *testing.T) {
	iss, err := NewTokenIssuer(time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	chain := Chain{ID: "chain-1", TenantID: "t1"}
	tok, err := iss.Issue(chain, "execute")
	if err != nil {
		t.Fatal(err)
	}
	if err := iss.Verify(tok); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	parsed, err := ParseToken(tok.String())
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if err := iss.Verify(parsed); err != nil {
		t.Errorf("Verify(parsed): %v", err)
	}

	tampered := tok
	tampered.Claims.Scopes = []string{"execute", "admin"}
	if err := iss.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered err = %v", err)
	}

	other, _ := NewTokenIssuer(time.Minute)
	if err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign issuer err = %v", err)
	}

	iss.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := iss.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired err = %v", err)
	}

	if _, err := ParseToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("parse garbage err = %v", err)
	}
}

func TestVerifier_VerifyOrThrow(t *testing.T) {
	iss, _ := NewTokenIssuer(time.Minute)
	v := NewVerifier(iss)
	cm := NewChainManager()
	m := testManifest()
	fp, _ := m.Fingerprint()
	chain, _ := cm.Create("t1", "u1", "", &m)
	tok, _ := iss.Issue(chain, "execute")

	otherChain, _ := cm.Create("t1", "u1", "", &m)
	otherTok, _ := iss.Issue(otherChain, "execute")

	valid := VerifyInput{
		Manifest:            m,
		ExpectedFingerprint: fp,
		Chain:               chain,
		Token:               tok,
		ExpectedTenant:      "t1",
		RequiredScopes:      []string{"execute"},
	}

	tests := []struct {
		name   string
		mutate func(*VerifyInput)
		want   error
	}{
		{"valid", func(*VerifyInput) {}, nil},
		{"fingerprint", func(in *VerifyInput) { in.ExpectedFingerprint = "sha256:00" }, ErrFingerprintMismatch},
		{"tampered manifest", func(in *VerifyInput) { in.Manifest.Tools = []string{"render", "shell"} }, ErrFingerprintMismatch},
		{"tenant", func(in *VerifyInput) { in.ExpectedTenant = "t2" }, ErrTenantMismatch},
		{"token for other chain", func(in *VerifyInput) { in.Token = otherTok }, ErrChainMismatch},
		{"missing scope", func(in *VerifyInput) { in.RequiredScopes = []string{"execute", "write"} }, ErrMissingScope},
		{"unsigned token", func(in *VerifyInput) { in.Token.Signature = nil }, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			err := v.VerifyOrThrow(in)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if cat, ok := models.DenialCategoryOf(err); !ok || cat != models.DenialManifest {
				t.Errorf("category = %q", cat)
			}
		})
	}
}

func TestValidateImagePinned(t *testing.T) {
	tests := []struct {
		image string
		ok    bool
	}{
		{pinned, true},
		{"alpine@sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", true},
		{"ghcr.io/acme/engine:1.0", false},
		{"ghcr.io/acme/engine", false},
		{"ghcr.io/acme/engine@sha256:short", false},
	}
	for _, tt := range tests {
		err := ValidateImagePinned(tt.image)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateImagePinned(%q) = %v, want ok=%v", tt.image, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrImageNotPinned) {
			t.Errorf("err %v does not wrap ErrImageNotPinned", err)
		}
	}
}
