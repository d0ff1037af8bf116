package registry

import (
	"os"
	"path/filepath"
	"testing"
)

const testRosterYAML = `
venues:
  - name: alpha
    default_leverage_cap: 20
    taker_fee_pct: 0.001
    margin_requirement_floor: 0.05
    credential_env_var: ALPHA_API_KEY
  - name: beta
    default_leverage_cap: 10
    taker_fee_pct: 0.002
    margin_requirement_floor: 0.1
    credential_env_var: BETA_API_KEY
`

func writeTestRoster(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	if err := os.WriteFile(path, []byte(testRosterYAML), 0o600); err != nil {
		t.Fatalf("write roster fixture: %v", err)
	}
	return path
}

func TestLoadPopulatesVenuesByName(t *testing.T) {
	reg, err := Load(writeTestRoster(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alpha, ok := reg.Lookup("alpha")
	if !ok {
		t.Fatal("expected venue alpha to be present")
	}
	if !alpha.LeverageCap().Equal(alpha.LeverageCap()) {
		t.Fatal("sanity: LeverageCap should be comparable to itself")
	}
	if alpha.DefaultLeverageCap != 20 {
		t.Fatalf("alpha leverage cap = %v, want 20", alpha.DefaultLeverageCap)
	}
	if alpha.CredentialEnvVar != "ALPHA_API_KEY" {
		t.Fatalf("alpha credential env var = %q, want ALPHA_API_KEY", alpha.CredentialEnvVar)
	}
}

func TestLookupMissingVenueReturnsFalse(t *testing.T) {
	reg, err := Load(writeTestRoster(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := reg.Lookup("gamma"); ok {
		t.Fatal("expected lookup of an unknown venue to report not-found")
	}
}

func TestNamesReturnsAllRosteredVenues(t *testing.T) {
	reg, err := Load(writeTestRoster(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 venue names, got %d", len(names))
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected an error loading a missing roster file")
	}
}
