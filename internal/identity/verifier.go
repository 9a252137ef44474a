package identity

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/mcptrust/execgate/internal/models"
)

// VerifyInput is everything needed to trust a manifest for one execution.
type VerifyInput struct {
	Manifest            Manifest
	ExpectedFingerprint string
	Chain               Chain
	Token               Token
	ExpectedTenant      string
	RequiredScopes      []string
}

// Verifier checks manifests against tokens minted by an issuer.
type Verifier struct {
	issuer *TokenIssuer
}

func NewVerifier(issuer *TokenIssuer) *Verifier {
	return &Verifier{issuer: issuer}
}

// VerifyOrThrow returns a manifest denial wrapping one of the package
// sentinel errors on the first failed check.
func (v *Verifier) VerifyOrThrow(in VerifyInput) error {
	if err := v.verify(in); err != nil {
		return &models.DenialError{
			Category: models.DenialManifest,
			Reason:   err.Error(),
			Details:  map[string]any{"manifest": in.Manifest.Name, "chain_id": in.Chain.ID},
			Err:      err,
		}
	}
	return nil
}

func (v *Verifier) verify(in VerifyInput) error {
	fp, err := in.Manifest.Fingerprint()
	if err != nil {
		return err
	}
	if in.ExpectedFingerprint != "" && fp != in.ExpectedFingerprint {
		return fmt.Errorf("%w: expected %s, got %s", ErrFingerprintMismatch, in.ExpectedFingerprint, fp)
	}
	if in.Chain.ManifestFingerprint != "" && in.Chain.ManifestFingerprint != fp {
		return fmt.Errorf("%w: chain %s was created for %s", ErrChainMismatch, in.Chain.ID, in.Chain.ManifestFingerprint)
	}
	if in.ExpectedTenant != "" {
		if in.Manifest.TenantID != in.ExpectedTenant {
			return fmt.Errorf("%w: manifest belongs to %q", ErrTenantMismatch, in.Manifest.TenantID)
		}
		if in.Chain.TenantID != in.ExpectedTenant {
			return fmt.Errorf("%w: chain belongs to %q", ErrTenantMismatch, in.Chain.TenantID)
		}
	}

	if v.issuer == nil {
		return fmt.Errorf("%w: no issuer configured", ErrInvalidToken)
	}
	if err := v.issuer.Verify(in.Token); err != nil {
		return err
	}
	if in.Token.Claims.ChainID != in.Chain.ID {
		return fmt.Errorf("%w: token issued for chain %s", ErrChainMismatch, in.Token.Claims.ChainID)
	}
	if in.ExpectedTenant != "" && in.Token.Claims.TenantID != in.ExpectedTenant {
		return fmt.Errorf("%w: token issued for %q", ErrTenantMismatch, in.Token.Claims.TenantID)
	}
	for _, scope := range in.RequiredScopes {
		if !in.Token.Claims.HasScope(scope) {
			return fmt.Errorf("%w: %s", ErrMissingScope, scope)
		}
	}

	if in.Manifest.Image != "" {
		if err := ValidateImagePinned(in.Manifest.Image); err != nil {
			return err
		}
	}
	return nil
}

// ValidateImagePinned requires an OCI reference of the form repo@sha256:...
func ValidateImagePinned(image string) error {
	ref, err := name.ParseReference(image)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrImageNotPinned, image, err)
	}
	if _, ok := ref.(name.Digest); !ok {
		return fmt.Errorf("%w: %q uses tag %q (use image@sha256:...)", ErrImageNotPinned, image, ref.Identifier())
	}
	return nil
}
